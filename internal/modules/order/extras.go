// README: Line item extras as a closed set of variants with a JSON envelope.
package order

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type ExtraKind string

const (
	ExtraSupplement        ExtraKind = "supplement"
	ExtraMeat              ExtraKind = "meat"
	ExtraSauce             ExtraKind = "sauce"
	ExtraRemovedIngredient ExtraKind = "removed_ingredient"
	ExtraComboDetail       ExtraKind = "combo_detail"
)

// Extra is one of Supplement, MeatChoice, SauceChoice, RemovedIngredient or
// ComboDetail.
type Extra interface {
	Kind() ExtraKind
	// Amount is what the extra adds to the unit price.
	Amount() decimal.Decimal
}

type Supplement struct {
	Name  string
	Price decimal.Decimal
}

type MeatChoice struct {
	Name  string
	Price decimal.Decimal
}

type SauceChoice struct {
	Name  string
	Price decimal.Decimal
}

type RemovedIngredient struct {
	Name string
}

// ComboDetail records which choice was made at one step of a combo or formula.
type ComboDetail struct {
	Step   string
	Choice string
}

func (Supplement) Kind() ExtraKind        { return ExtraSupplement }
func (MeatChoice) Kind() ExtraKind        { return ExtraMeat }
func (SauceChoice) Kind() ExtraKind       { return ExtraSauce }
func (RemovedIngredient) Kind() ExtraKind { return ExtraRemovedIngredient }
func (ComboDetail) Kind() ExtraKind       { return ExtraComboDetail }

func (e Supplement) Amount() decimal.Decimal      { return e.Price }
func (e MeatChoice) Amount() decimal.Decimal      { return e.Price }
func (e SauceChoice) Amount() decimal.Decimal     { return e.Price }
func (RemovedIngredient) Amount() decimal.Decimal { return decimal.Zero }
func (ComboDetail) Amount() decimal.Decimal       { return decimal.Zero }

type Extras []Extra

type extraEnvelope struct {
	Kind   ExtraKind        `json:"kind"`
	Name   string           `json:"name,omitempty"`
	Price  *decimal.Decimal `json:"price,omitempty"`
	Step   string           `json:"step,omitempty"`
	Choice string           `json:"choice,omitempty"`
}

func (x Extras) MarshalJSON() ([]byte, error) {
	out := make([]extraEnvelope, 0, len(x))
	for _, e := range x {
		env := extraEnvelope{Kind: e.Kind()}
		switch v := e.(type) {
		case Supplement:
			env.Name, env.Price = v.Name, &v.Price
		case MeatChoice:
			env.Name, env.Price = v.Name, &v.Price
		case SauceChoice:
			env.Name, env.Price = v.Name, &v.Price
		case RemovedIngredient:
			env.Name = v.Name
		case ComboDetail:
			env.Step, env.Choice = v.Step, v.Choice
		default:
			return nil, fmt.Errorf("unknown extra %T", e)
		}
		out = append(out, env)
	}
	return json.Marshal(out)
}

// UnmarshalJSON rejects unknown kinds, blank names and negative prices with
// ErrValidation.
func (x *Extras) UnmarshalJSON(data []byte) error {
	var raw []extraEnvelope
	if err := json.Unmarshal(data, &raw); err != nil {
		return validationf("extras: %v", err)
	}
	out := make(Extras, 0, len(raw))
	for i, env := range raw {
		e, err := env.decode()
		if err != nil {
			return validationf("extras[%d]: %v", i, err)
		}
		out = append(out, e)
	}
	*x = out
	return nil
}

func (env extraEnvelope) decode() (Extra, error) {
	name := strings.TrimSpace(env.Name)
	price := decimal.Zero
	if env.Price != nil {
		price = *env.Price
	}
	if price.IsNegative() {
		return nil, fmt.Errorf("negative price %s", price)
	}
	switch env.Kind {
	case ExtraSupplement, ExtraMeat, ExtraSauce:
		if name == "" {
			return nil, fmt.Errorf("%s without a name", env.Kind)
		}
		switch env.Kind {
		case ExtraSupplement:
			return Supplement{Name: name, Price: price}, nil
		case ExtraMeat:
			return MeatChoice{Name: name, Price: price}, nil
		default:
			return SauceChoice{Name: name, Price: price}, nil
		}
	case ExtraRemovedIngredient:
		if name == "" {
			return nil, fmt.Errorf("removed ingredient without a name")
		}
		return RemovedIngredient{Name: name}, nil
	case ExtraComboDetail:
		if strings.TrimSpace(env.Choice) == "" {
			return nil, fmt.Errorf("combo detail without a choice")
		}
		return ComboDetail{Step: strings.TrimSpace(env.Step), Choice: strings.TrimSpace(env.Choice)}, nil
	}
	return nil, fmt.Errorf("unknown kind %q", env.Kind)
}

// Total sums what the extras add to a unit price.
func (x Extras) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, e := range x {
		sum = sum.Add(e.Amount())
	}
	return sum
}

// split separates supplements from the other customizations; they are stored
// in different columns.
func (x Extras) split() (supplements, customizations Extras) {
	supplements, customizations = Extras{}, Extras{}
	for _, e := range x {
		if e.Kind() == ExtraSupplement {
			supplements = append(supplements, e)
			continue
		}
		customizations = append(customizations, e)
	}
	return supplements, customizations
}
