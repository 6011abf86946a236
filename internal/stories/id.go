package stories

import "github.com/google/uuid"

type uuidProvider struct {
	generate func() (uuid.UUID, error)
}

// NewUUIDProvider constructs an IDProvider that issues time-ordered UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{generate: uuid.NewV7}
}

// NewShareTokenProvider constructs an IDProvider that issues random UUIDv4 tokens.
func NewShareTokenProvider() IDProvider {
	return &uuidProvider{generate: uuid.NewRandom}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := p.generate()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
