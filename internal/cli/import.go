package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sakif/contact-identity/internal/model"
	"github.com/sakif/contact-identity/internal/repository"
	"github.com/sakif/contact-identity/internal/service"
)

// importFile is the YAML document read by `identityctl import`:
//
//	contacts:
//	  - email: lorraine@hillvalley.edu
//	    phoneNumber: "123456"
//	  - phoneNumber: "717171"
//
// Entries are resolved in file order, one transaction each, so the file
// replays a history of submissions.
type importFile struct {
	Contacts []importEntry `yaml:"contacts"`
}

type importEntry struct {
	Email       string `yaml:"email" validate:"omitempty,email"`
	PhoneNumber string `yaml:"phoneNumber" validate:"required_without=Email"`
}

// importSummary is printed when the import finishes.
type importSummary struct {
	Submissions int     `json:"submissions"`
	Primaries   []int64 `json:"primaryContactIds"`
}

func (a *app) importCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Resolve every submission listed in a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := readImportFile(args[0])
			if err != nil {
				return err
			}
			return a.withStore(cmd, func(ctx context.Context, st repository.ContactStore, logger *slog.Logger) error {
				summary, err := runImport(ctx, service.NewResolver(st, logger), entries)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), summary)
			})
		},
	}
}

// readImportFile parses and validates path. Every entry is checked before
// anything is written, so a typo on the last line does not leave half an
// import behind.
func readImportFile(path string) ([]importEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading import file: %w", err)
	}

	var file importFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing import file: %w", err)
	}
	if len(file.Contacts) == 0 {
		return nil, errors.New("import file has no contacts")
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	for i := range file.Contacts {
		entry := &file.Contacts[i]
		entry.Email = strings.TrimSpace(entry.Email)
		entry.PhoneNumber = strings.TrimSpace(entry.PhoneNumber)
		if err := validate.Struct(entry); err != nil {
			return nil, fmt.Errorf("contacts[%d]: %s", i, describeEntryError(err))
		}
	}
	return file.Contacts, nil
}

func describeEntryError(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err.Error()
	}
	switch fieldErrs[0].Tag() {
	case "email":
		return "invalid email address"
	case "required_without":
		return "email or phoneNumber is required"
	}
	return fieldErrs[0].Error()
}

// runImport resolves entries in order and reports the distinct primaries the
// touched clusters have once the whole file is in. A later entry can merge
// clusters created earlier, so primaries are looked up again at the end.
func runImport(ctx context.Context, resolver *service.Resolver, entries []importEntry) (*importSummary, error) {
	touched := make([]int64, 0, len(entries))
	for i, entry := range entries {
		view, err := resolver.Resolve(ctx, model.StringPtr(entry.Email), model.StringPtr(entry.PhoneNumber))
		if err != nil {
			return nil, fmt.Errorf("contacts[%d]: %w", i, err)
		}
		touched = append(touched, view.PrimaryContactID)
	}

	summary := &importSummary{Submissions: len(entries), Primaries: []int64{}}
	seen := make(map[int64]bool)
	for _, id := range touched {
		view, err := resolver.Lookup(ctx, id)
		if err != nil {
			return nil, err
		}
		if !seen[view.PrimaryContactID] {
			seen[view.PrimaryContactID] = true
			summary.Primaries = append(summary.Primaries, view.PrimaryContactID)
		}
	}
	return summary, nil
}
