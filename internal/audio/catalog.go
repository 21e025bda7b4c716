package audio

// Catalog lists devices of a backend. It never caches: devices come and go,
// so every call goes back to the platform.
type Catalog struct {
	backend Backend
}

// NewCatalog returns a catalog over b.
func NewCatalog(b Backend) *Catalog {
	return &Catalog{backend: b}
}

// ListDevices returns the devices for dir in platform order.
func (c *Catalog) ListDevices(dir Direction) ([]DeviceDescriptor, error) {
	devs, err := c.backend.Enumerate(dir)
	if err != nil {
		return nil, &EnumerationError{Direction: dir, Err: err}
	}
	out := make([]DeviceDescriptor, 0, len(devs))
	for _, d := range devs {
		if d.Direction != dir {
			continue
		}
		d.Modes = append([]Mode(nil), d.Modes...)
		out = append(out, d)
	}
	return out, nil
}

// Lookup finds the device with id in a fresh enumeration. A display name is
// accepted when no id matches.
func (c *Catalog) Lookup(dir Direction, id string) (DeviceDescriptor, error) {
	devs, err := c.ListDevices(dir)
	if err != nil {
		return DeviceDescriptor{}, err
	}
	for _, d := range devs {
		if d.ID == id {
			return d, nil
		}
	}
	for _, d := range devs {
		if d.Name == id {
			return d, nil
		}
	}
	return DeviceDescriptor{}, &DeviceUnavailableError{ID: id, Direction: dir}
}
