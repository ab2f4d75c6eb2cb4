package allowlist

import (
	"context"
	"errors"
	"fmt"
	"io"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"gopkg.in/yaml.v3"
)

// SeedFile is the YAML document accepted by LoadSeedFile.
//
//	members:
//	  - discord: pilot#0001
//	    twitter: pilot_tw
//	    project: udo
type SeedFile struct {
	Members []*Member `yaml:"members"`
}

// Validate will run validation rules
func (f SeedFile) Validate() error {
	for i, m := range f.Members {
		if m == nil {
			return fmt.Errorf("members[%d]: empty entry", i)
		}
		err := validation.ValidateStruct(m,
			validation.Field(&m.Discord, validation.By(func(any) error {
				if m.Discord == "" && m.Twitter == "" {
					return errors.New("discord or twitter handle is required")
				}
				return nil
			})),
			validation.Field(&m.Address, validation.By(func(any) error {
				if m.Address != "" && !IsAddress(m.Address) {
					return InvalidAddressError(m.Address)
				}
				return nil
			})),
		)
		if err != nil {
			return fmt.Errorf("members[%d]: %w", i, err)
		}
	}
	return nil
}

// LoadSeedFile decodes and validates a seed document.
func LoadSeedFile(r io.Reader) (*SeedFile, error) {
	file := &SeedFile{}
	if err := yaml.NewDecoder(r).Decode(file); err != nil && err != io.EOF {
		return nil, withSource(ErrInvalidPayload, err, map[string]any{"reason": "malformed seed file"})
	}

	if err := file.Validate(); err != nil {
		return nil, withSource(ErrInvalidPayload, err, nil)
	}

	return file, nil
}

// SeedMembers upserts every member of the file and returns how many were written.
// Addresses are stored in checksummed form.
func SeedMembers(ctx context.Context, store MemberStore, file *SeedFile, logger Logger) (int, error) {
	logger = normalizeLogger(logger)

	count := 0
	for _, m := range file.Members {
		member := *m
		if member.Address != "" {
			address, err := ToChecksumAddress(member.Address)
			if err != nil {
				return count, err
			}
			member.Address = address
		}

		stored, err := store.Upsert(ctx, &member)
		if err != nil {
			return count, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to seed member").
				WithMetadata(map[string]any{"discord": m.Discord, "twitter": m.Twitter})
		}

		logger.Debug("seeded member", "id", stored.ID, "discord", stored.Discord, "twitter", stored.Twitter)
		count++
	}

	return count, nil
}
