package settings

import (
	"github.com/dshills/confstore/internal/variant"
)

// Boolean returns the value of a "b" key.
func (s *Settings) Boolean(name string) (bool, error) {
	v, err := s.Get(name, variant.TypeBoolean)
	return v.Bool(), err
}

// SetBoolean writes a "b" key.
func (s *Settings) SetBoolean(name string, value bool) error {
	return s.Set(name, variant.NewBool(value))
}

// Byte returns the value of a "y" key.
func (s *Settings) Byte(name string) (byte, error) {
	v, err := s.Get(name, variant.TypeByte)
	return v.Byte(), err
}

// SetByte writes a "y" key.
func (s *Settings) SetByte(name string, value byte) error {
	return s.Set(name, variant.NewByte(value))
}

// Int16 returns the value of an "n" key.
func (s *Settings) Int16(name string) (int16, error) {
	v, err := s.Get(name, variant.TypeInt16)
	return v.Int16(), err
}

// SetInt16 writes an "n" key.
func (s *Settings) SetInt16(name string, value int16) error {
	return s.Set(name, variant.NewInt16(value))
}

// Uint16 returns the value of a "q" key.
func (s *Settings) Uint16(name string) (uint16, error) {
	v, err := s.Get(name, variant.TypeUint16)
	return v.Uint16(), err
}

// SetUint16 writes a "q" key.
func (s *Settings) SetUint16(name string, value uint16) error {
	return s.Set(name, variant.NewUint16(value))
}

// Int returns the value of an "i" key.
func (s *Settings) Int(name string) (int32, error) {
	v, err := s.Get(name, variant.TypeInt32)
	return v.Int32(), err
}

// SetInt writes an "i" key.
func (s *Settings) SetInt(name string, value int32) error {
	return s.Set(name, variant.NewInt32(value))
}

// Uint returns the value of a "u" key.
func (s *Settings) Uint(name string) (uint32, error) {
	v, err := s.Get(name, variant.TypeUint32)
	return v.Uint32(), err
}

// SetUint writes a "u" key.
func (s *Settings) SetUint(name string, value uint32) error {
	return s.Set(name, variant.NewUint32(value))
}

// Int64 returns the value of an "x" key.
func (s *Settings) Int64(name string) (int64, error) {
	v, err := s.Get(name, variant.TypeInt64)
	return v.Int64(), err
}

// SetInt64 writes an "x" key.
func (s *Settings) SetInt64(name string, value int64) error {
	return s.Set(name, variant.NewInt64(value))
}

// Uint64 returns the value of a "t" key.
func (s *Settings) Uint64(name string) (uint64, error) {
	v, err := s.Get(name, variant.TypeUint64)
	return v.Uint64(), err
}

// SetUint64 writes a "t" key.
func (s *Settings) SetUint64(name string, value uint64) error {
	return s.Set(name, variant.NewUint64(value))
}

// Double returns the value of a "d" key.
func (s *Settings) Double(name string) (float64, error) {
	v, err := s.Get(name, variant.TypeDouble)
	return v.Double(), err
}

// SetDouble writes a "d" key.
func (s *Settings) SetDouble(name string, value float64) error {
	return s.Set(name, variant.NewDouble(value))
}

// String returns the value of an "s" key.
func (s *Settings) String(name string) (string, error) {
	v, err := s.Get(name, variant.TypeString)
	return v.Str(), err
}

// SetString writes an "s" key.
func (s *Settings) SetString(name string, value string) error {
	return s.Set(name, variant.NewString(value))
}

// Strv returns the value of an "as" key.
func (s *Settings) Strv(name string) ([]string, error) {
	v, err := s.Get(name, variant.TypeStrv)
	if err != nil {
		return nil, err
	}
	return v.Strv(), nil
}

// SetStrv writes an "as" key.
func (s *Settings) SetStrv(name string, value []string) error {
	return s.Set(name, variant.NewStrv(value))
}
