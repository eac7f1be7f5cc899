package chrono

import "time"

// API is the clock every component reads time from, it exists so that
// results logs and store timestamps can be pinned in tests.
type API interface {
	Now() time.Time
	Location() *time.Location
}

// StandardImpl reads the system clock and converts it to Japan time, the
// timezone the failure knowledge database publishes its dates in.
type StandardImpl struct {
	location *time.Location
}

func NewStandardImpl() (StandardImpl, error) {
	location, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		return StandardImpl{}, err
	}
	return StandardImpl{location: location}, nil
}

func (s StandardImpl) Now() time.Time {
	return time.Now().In(s.location)
}

func (s StandardImpl) Location() *time.Location {
	return s.location
}

// FixedImpl always returns the same instant.
type FixedImpl struct {
	At time.Time
}

func (f FixedImpl) Now() time.Time {
	return f.At
}

func (f FixedImpl) Location() *time.Location {
	return f.At.Location()
}
