package ai

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/OFFIS-RIT/ctilinker/pkg/common"

	"gopkg.in/yaml.v3"
)

// ErrUnknownModel is returned when no price is known for a model.
var ErrUnknownModel = errors.New("unknown pricing model")

//go:embed prices.yaml
var defaultPricesYAML []byte

const tokensPerPriceUnit = 1_000_000

// ModelPrice is the price of one million input and output tokens.
type ModelPrice struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

// PriceTable maps model names to token prices.
type PriceTable struct {
	Models map[string]ModelPrice `yaml:"models"`
}

// DefaultPrices returns the price table shipped with the binary.
func DefaultPrices() (*PriceTable, error) {
	return ParsePrices(defaultPricesYAML)
}

// ParsePrices decodes a YAML price table.
func ParsePrices(data []byte) (*PriceTable, error) {
	var table PriceTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parse price table: %w", err)
	}
	for model, p := range table.Models {
		if p.Input < 0 || p.Output < 0 {
			return nil, fmt.Errorf("parse price table: negative price for %q", model)
		}
	}
	return &table, nil
}

// LoadPrices reads the default table and overlays the file at path, if any.
func LoadPrices(path string) (*PriceTable, error) {
	table, err := DefaultPrices()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return table, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read price table: %w", err)
	}
	override, err := ParsePrices(data)
	if err != nil {
		return nil, err
	}
	if table.Models == nil {
		table.Models = make(map[string]ModelPrice, len(override.Models))
	}
	for model, p := range override.Models {
		table.Models[model] = p
	}
	return table, nil
}

// Lookup returns the price of model.
func (t *PriceTable) Lookup(model string) (ModelPrice, error) {
	if t != nil {
		if p, ok := t.Models[model]; ok {
			return p, nil
		}
	}
	return ModelPrice{}, fmt.Errorf("%w: %q", ErrUnknownModel, model)
}

// Usage prices the given token counts.
func (p ModelPrice) Usage(inputTokens, outputTokens int) common.Usage {
	in := common.TokenCost{
		Tokens: inputTokens,
		Cost:   float64(inputTokens) * p.Input / tokensPerPriceUnit,
	}
	out := common.TokenCost{
		Tokens: outputTokens,
		Cost:   float64(outputTokens) * p.Output / tokensPerPriceUnit,
	}
	return common.Usage{
		Input:  in,
		Output: out,
		Total: common.TokenCost{
			Tokens: in.Tokens + out.Tokens,
			Cost:   in.Cost + out.Cost,
		},
	}
}
