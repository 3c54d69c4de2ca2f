// Package catalog holds the static inputs of a crawl pass: the country list
// and the keyword terms.
package catalog

import (
	"bufio"
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/mofcom-crawler/internal/crawler"
)

//go:embed countries.yaml
var countriesYAML []byte

type catalogFile struct {
	Countries []crawler.Country `yaml:"countries"`
}

// Catalog is an immutable country list keyed by ISO alpha-2 code.
type Catalog struct {
	countries []crawler.Country
	byCode    map[string]crawler.Country
}

// Selection narrows and annotates the catalog for one run.
type Selection struct {
	Exclude []string
	Only    []string
	Regions map[string]string
}

// Default returns the embedded ISO 3166-1 catalog.
func Default() (*Catalog, error) {
	return Parse(countriesYAML)
}

// Parse decodes a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode country catalog: %w", err)
	}
	c := &Catalog{byCode: make(map[string]crawler.Country, len(file.Countries))}
	for _, country := range file.Countries {
		country.Code = strings.ToUpper(strings.TrimSpace(country.Code))
		if country.Code == "" || country.Name == "" {
			return nil, fmt.Errorf("country catalog entry %+v is incomplete", country)
		}
		if _, dup := c.byCode[country.Code]; dup {
			return nil, fmt.Errorf("country catalog has duplicate code %s", country.Code)
		}
		c.byCode[country.Code] = country
		c.countries = append(c.countries, country)
	}
	return c, nil
}

// Len reports the number of countries.
func (c *Catalog) Len() int {
	return len(c.countries)
}

// Lookup finds a country by alpha-2 code, case-insensitively.
func (c *Catalog) Lookup(code string) (crawler.Country, bool) {
	country, ok := c.byCode[strings.ToUpper(strings.TrimSpace(code))]
	return country, ok
}

// Select applies exclusions, the optional allow list and region overrides.
// The result is ordered by country code. Unknown codes in Only are an error.
func (c *Catalog) Select(sel Selection) ([]crawler.Country, error) {
	excluded := upperSet(sel.Exclude)
	only := upperSet(sel.Only)
	for code := range only {
		if _, ok := c.byCode[code]; !ok {
			return nil, fmt.Errorf("unknown country code %q", code)
		}
	}
	regions := make(map[string]string, len(sel.Regions))
	for code, region := range sel.Regions {
		regions[strings.ToUpper(code)] = region
	}

	out := make([]crawler.Country, 0, len(c.countries))
	for _, country := range c.countries {
		if _, skip := excluded[country.Code]; skip {
			continue
		}
		if len(only) > 0 {
			if _, keep := only[country.Code]; !keep {
				continue
			}
		}
		if region, ok := regions[country.Code]; ok {
			country.Region = region
		}
		out = append(out, country)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func upperSet(codes []string) map[string]struct{} {
	set := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		code = strings.ToUpper(strings.TrimSpace(code))
		if code != "" {
			set[code] = struct{}{}
		}
	}
	return set
}

// ParseTerms turns keyword lines into term groups. Each line is split on
// whitespace; blank lines and '#' comments are ignored.
func ParseTerms(lines []string) [][]string {
	var out [][]string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, strings.Fields(line))
	}
	return out
}

// ReadTerms reads keyword lines from r.
func ReadTerms(r io.Reader) ([][]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read terms: %w", err)
	}
	return ParseTerms(lines), nil
}

// LoadTermsFile reads keyword lines from path.
func LoadTermsFile(path string) ([][]string, error) {
	f, err := os.Open(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("open terms file: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only
	return ReadTerms(f)
}
