// Package refdata loads the reference tables from JSON files on disk.
package refdata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bryanwahyu/tradelane/internal/domain/reference"
)

// Default file names inside the reference directory.
const (
	TariffsFile     = "tariffs.json"
	AgreementsFile  = "trade_agreements.json"
	CountryRiskFile = "country_risk.json"
)

// Paths locates the three tables. Empty fields fall back to the default file
// name inside Dir.
type Paths struct {
	Dir         string `yaml:"dir"`
	Tariffs     string `yaml:"tariffs"`
	Agreements  string `yaml:"agreements"`
	CountryRisk string `yaml:"country_risk"`
}

func (p Paths) resolve(explicit, name string) string {
	if explicit != "" {
		return explicit
	}
	return filepath.Join(p.Dir, name)
}

type agreementsFile struct {
	Agreements []reference.TradeAgreement `json:"agreements"`
}

// Load reads and validates every table. Any unreadable or malformed file is
// an error; the service must not start on partial reference data.
func Load(p Paths) (*reference.Store, error) {
	var t reference.Tables

	if err := readJSON(p.resolve(p.Tariffs, TariffsFile), &t.Tariffs); err != nil {
		return nil, err
	}
	var af agreementsFile
	if err := readJSON(p.resolve(p.Agreements, AgreementsFile), &af); err != nil {
		return nil, err
	}
	t.Agreements = af.Agreements
	if err := readJSON(p.resolve(p.CountryRisk, CountryRiskFile), &t.CountryRisk); err != nil {
		return nil, err
	}

	store, err := reference.NewStore(t)
	if err != nil {
		return nil, fmt.Errorf("refdata: %w", err)
	}
	return store, nil
}

// Decode builds a store from in-memory documents, mainly for tests.
func Decode(tariffs, agreements, countryRisk io.Reader) (*reference.Store, error) {
	var t reference.Tables
	if err := decode(tariffs, &t.Tariffs); err != nil {
		return nil, fmt.Errorf("refdata: tariffs: %w", err)
	}
	var af agreementsFile
	if err := decode(agreements, &af); err != nil {
		return nil, fmt.Errorf("refdata: agreements: %w", err)
	}
	t.Agreements = af.Agreements
	if err := decode(countryRisk, &t.CountryRisk); err != nil {
		return nil, fmt.Errorf("refdata: country risk: %w", err)
	}
	return reference.NewStore(t)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("refdata: read %s: %w", path, err)
	}
	if err := decode(bytes.NewReader(data), v); err != nil {
		return fmt.Errorf("refdata: parse %s: %w", path, err)
	}
	return nil
}

func decode(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
