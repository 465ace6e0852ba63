// Package catalog holds the daily instrument universe: loaded from the
// gateway once per calendar day, cached on disk, immutable afterwards.
package catalog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"ctpgate/logger"
	"ctpgate/models"
)

const cacheFile = "instruments.dat"

// Option contract codes embed a C or P between digit/dash runs, e.g.
// "m2501-C-2800" or "IO2501C3900". Everything else with a known futures
// exchange is a future.
var (
	optionPattern     = regexp.MustCompile(`[\d-][CP][\d-]`)
	underlyingDashed  = regexp.MustCompile(`([A-Za-z]{2,}\d{2,})`)
	underlyingCompact = regexp.MustCompile(`^[A-Za-z]+\d+`)
)

var futuresExchanges = map[string]bool{
	"SHFE":  true,
	"DCE":   true,
	"CZCE":  true,
	"CFFEX": true,
	"INE":   true,
	"GFEX":  true,
}

// QueryFunc fetches the instrument universe from the gateway.
type QueryFunc func() (map[string]models.Instrument, error)

// Catalog is the loaded universe with its derived classifications.
type Catalog struct {
	date        string
	instruments map[string]models.Instrument
	options     map[string][]string // underlying code -> option codes
	futures     map[string][]string // exchange -> future codes
}

// Load returns the universe for now's calendar day. A same-day disk cache
// under dir is used when present; otherwise query fetches the universe and
// the cache is rewritten. The cache is one date line followed by the JSON
// document, so a reload round-trips byte for byte.
func Load(dir string, now time.Time, query QueryFunc, log *logger.Log) (*Catalog, error) {
	clog := log.WithComponent("catalog")
	date := now.Format("2006-01-02")
	path := filepath.Join(dir, cacheFile)

	if instruments, err := readCache(path, date); err == nil {
		clog.WithFields(logger.Fields{"date": date, "count": len(instruments)}).
			Info("instrument catalog loaded from cache")
		return build(date, instruments), nil
	} else if !os.IsNotExist(err) {
		clog.WithError(err).Debug("instrument cache unusable, querying gateway")
	}

	instruments, err := query()
	if err != nil {
		return nil, fmt.Errorf("load instrument universe: %w", err)
	}
	if err := writeCache(path, date, instruments); err != nil {
		clog.WithError(err).Warn("failed to write instrument cache")
	}
	clog.LogMetric("catalog", "catalog_instruments", int64(len(instruments)), "gauge", nil)
	clog.WithFields(logger.Fields{"date": date, "count": len(instruments)}).
		Info("instrument catalog loaded from gateway")
	return build(date, instruments), nil
}

func readCache(path, date string) (map[string]models.Instrument, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(line) != date {
		return nil, fmt.Errorf("cache dated %s, want %s", strings.TrimSpace(line), date)
	}
	var instruments map[string]models.Instrument
	if err := json.NewDecoder(r).Decode(&instruments); err != nil {
		return nil, err
	}
	if len(instruments) == 0 {
		return nil, fmt.Errorf("cache holds no instruments")
	}
	return instruments, nil
}

func writeCache(path, date string, instruments map[string]models.Instrument) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	// Map keys marshal sorted, so cache bytes are stable across rewrites.
	doc, err := json.Marshal(instruments)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append([]byte(date+"\n"), doc...), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func build(date string, instruments map[string]models.Instrument) *Catalog {
	c := &Catalog{
		date:        date,
		instruments: instruments,
		options:     make(map[string][]string),
		futures:     make(map[string][]string),
	}
	for code, inst := range instruments {
		if inst.OptionType != models.OptionNone || optionPattern.MatchString(code) {
			if u := underlyingOf(code); u != "" {
				c.options[u] = append(c.options[u], code)
			}
			continue
		}
		if futuresExchanges[inst.Exchange] {
			c.futures[inst.Exchange] = append(c.futures[inst.Exchange], code)
		}
	}
	return c
}

func underlyingOf(code string) string {
	if m := underlyingDashed.FindString(code); m != "" {
		return m
	}
	return underlyingCompact.FindString(code)
}

// Date returns the calendar day the catalog was loaded for.
func (c *Catalog) Date() string { return c.date }

// Len returns the number of instruments in the universe.
func (c *Catalog) Len() int { return len(c.instruments) }

// Has reports whether code names a known instrument.
func (c *Catalog) Has(code string) bool {
	_, ok := c.instruments[code]
	return ok
}

// Get returns the instrument for code.
func (c *Catalog) Get(code string) (models.Instrument, bool) {
	inst, ok := c.instruments[code]
	return inst, ok
}

// All returns the full universe. Callers must not mutate it.
func (c *Catalog) All() map[string]models.Instrument {
	return c.instruments
}

// OptionsByUnderlying returns the option codes listed on the underlying.
func (c *Catalog) OptionsByUnderlying(underlying string) []string {
	return c.options[underlying]
}

// FuturesByExchange returns the future codes listed on the exchange.
func (c *Catalog) FuturesByExchange(exchange string) []string {
	return c.futures[exchange]
}
