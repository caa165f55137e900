package repository

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/tierprice/internal/domain"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Fixtures is a YAML document describing products, rules, tiers and
// customer assignments.
type Fixtures struct {
	Products []domain.Product `yaml:"products"`
	Rules    []RuleFixture    `yaml:"rules"`
}

// RuleFixture declares a rule with its tiers and assignments inline.
type RuleFixture struct {
	ID          string              `yaml:"id"`
	Name        string              `yaml:"name"`
	Description string              `yaml:"description"`
	Type        domain.RuleType     `yaml:"type"`
	Level       domain.Level        `yaml:"level"`
	TargetID    string              `yaml:"target_id"`
	TargetName  string              `yaml:"target_name"`
	StartDate   fixtureDate         `yaml:"start_date"`
	EndDate     *fixtureDate        `yaml:"end_date"`
	Status      domain.RuleStatus   `yaml:"status"`
	Condition   string              `yaml:"condition"`
	CreatedAt   string              `yaml:"created_at"`
	Tiers       []TierFixture       `yaml:"tiers"`
	Assignments []AssignmentFixture `yaml:"assignments"`
}

// TierFixture is one tier row of a rule.
type TierFixture struct {
	ID            string              `yaml:"id"`
	Tier          domain.Tier         `yaml:"tier"`
	DiscountType  domain.DiscountType `yaml:"discount_type"`
	DiscountValue fixtureDecimal      `yaml:"discount_value"`
	MinQuantity   int                 `yaml:"min_quantity"`
	MaxQuantity   *int                `yaml:"max_quantity"`
}

// AssignmentFixture assigns a customer to a tier of the enclosing rule.
type AssignmentFixture struct {
	ID         string      `yaml:"id"`
	CustomerID string      `yaml:"customer_id"`
	Tier       domain.Tier `yaml:"tier"`
	AssignedBy string      `yaml:"assigned_by"`
	Notes      string      `yaml:"notes"`
}

type fixtureDate struct{ time.Time }

func (d *fixtureDate) UnmarshalYAML(n *yaml.Node) error {
	t, err := time.Parse(domain.DateLayout, n.Value)
	if err != nil {
		return fmt.Errorf("line %d: date %q: %w", n.Line, n.Value, err)
	}
	d.Time = t
	return nil
}

type fixtureDecimal struct{ decimal.Decimal }

func (d *fixtureDecimal) UnmarshalYAML(n *yaml.Node) error {
	v, err := decimal.NewFromString(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: decimal %q: %w", n.Line, n.Value, err)
	}
	d.Decimal = v
	return nil
}

// fixtureNamespace seeds deterministic ids so reloading a file upserts.
var fixtureNamespace = uuid.MustParse("8f4d0f3e-5c1a-4e0b-9a57-2f3c6b1d7e90")

func fixtureID(parts ...string) string {
	var key string
	for _, p := range parts {
		key += p + "/"
	}
	return uuid.NewSHA1(fixtureNamespace, []byte(key)).String()
}

// ParseFixtures decodes a fixture document.
func ParseFixtures(r io.Reader) (*Fixtures, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f Fixtures
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: fixtures: %v", domain.ErrInvalidInput, err)
	}
	return &f, nil
}

// LoadFixturesFile parses path and writes its contents to store.
func LoadFixturesFile(ctx context.Context, store domain.RuleStore, path string) (*Fixtures, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	f, err := ParseFixtures(file)
	if err != nil {
		return nil, err
	}
	return f, LoadFixtures(ctx, store, f)
}

// LoadFixtures writes products, then each rule with its tiers and assignments.
func LoadFixtures(ctx context.Context, store domain.RuleStore, f *Fixtures) error {
	for i := range f.Products {
		if err := store.SaveProduct(ctx, &f.Products[i]); err != nil {
			return fmt.Errorf("product %s: %w", f.Products[i].ID, err)
		}
	}

	for _, rf := range f.Rules {
		rule, err := rf.toRule()
		if err != nil {
			return err
		}
		if err := store.SaveRule(ctx, rule); err != nil {
			return fmt.Errorf("rule %s: %w", rf.ID, err)
		}

		for i, tf := range rf.Tiers {
			id := tf.ID
			if id == "" {
				id = fixtureID("tier", rf.ID, string(tf.Tier), fmt.Sprint(i))
			}
			minQty := tf.MinQuantity
			if minQty == 0 {
				minQty = 1
			}
			tier := &domain.DiscountRuleTier{
				ID:            id,
				RuleID:        rf.ID,
				Tier:          tf.Tier,
				DiscountType:  tf.DiscountType,
				DiscountValue: tf.DiscountValue.Decimal,
				MinQuantity:   minQty,
				MaxQuantity:   tf.MaxQuantity,
			}
			if err := store.SaveTier(ctx, tier); err != nil {
				return fmt.Errorf("rule %s tier %s: %w", rf.ID, tf.Tier, err)
			}
		}

		for _, af := range rf.Assignments {
			id := af.ID
			if id == "" {
				id = fixtureID("assignment", rf.ID, af.CustomerID)
			}
			a := &domain.CustomerTierAssignment{
				ID:         id,
				RuleID:     rf.ID,
				CustomerID: af.CustomerID,
				Tier:       af.Tier,
				AssignedBy: af.AssignedBy,
				Notes:      af.Notes,
			}
			if err := store.SaveAssignment(ctx, a); err != nil {
				return fmt.Errorf("rule %s assignment %s: %w", rf.ID, af.CustomerID, err)
			}
		}
	}

	return nil
}

func (rf RuleFixture) toRule() (*domain.DiscountRule, error) {
	rule := &domain.DiscountRule{
		ID:          rf.ID,
		Name:        rf.Name,
		Description: rf.Description,
		RuleType:    rf.Type,
		Level:       rf.Level,
		TargetID:    rf.TargetID,
		TargetName:  rf.TargetName,
		StartDate:   rf.StartDate.Time,
		Status:      rf.Status,
		Condition:   rf.Condition,
		CreatedBy:   "fixtures",
	}
	if rule.RuleType == "" {
		rule.RuleType = domain.RuleTypeCustomerDiscount
	}
	if !rule.RuleType.Valid() {
		return nil, fmt.Errorf("%w: rule %s: unknown type %q", domain.ErrInvalidInput, rf.ID, rf.Type)
	}
	if rule.Status == "" {
		rule.Status = domain.RuleStatusActive
	}
	if rf.EndDate != nil {
		end := rf.EndDate.Time
		rule.EndDate = &end
	}
	if rf.CreatedAt != "" {
		created, err := time.Parse(time.RFC3339, rf.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %s: created_at: %v", domain.ErrInvalidInput, rf.ID, err)
		}
		rule.CreatedAt = created
	}
	return rule, nil
}
