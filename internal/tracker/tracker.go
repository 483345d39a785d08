// Package tracker is the user-level facade over the three stores. It
// owns the wiring between catalog, profiles, and ledger, and exposes
// the operations conversational handlers call.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/apkuzmin/nutro-bot/internal/catalog"
	"github.com/apkuzmin/nutro-bot/internal/ledger"
	"github.com/apkuzmin/nutro-bot/internal/model"
	"github.com/apkuzmin/nutro-bot/internal/nutrition"
	"github.com/apkuzmin/nutro-bot/internal/pool"
	"github.com/apkuzmin/nutro-bot/internal/profile"
	"github.com/apkuzmin/nutro-bot/internal/provider/openfoodfacts"
	"github.com/apkuzmin/nutro-bot/internal/txn"
)

// BarcodeLookup fetches product data for barcodes the catalog has no
// binding for. Satisfied by openfoodfacts.Client.
type BarcodeLookup interface {
	LookupBarcode(ctx context.Context, barcode string) (openfoodfacts.Lookup, error)
}

type Tracker struct {
	Profiles *profile.Store
	Catalog  *catalog.Store
	Ledger   *ledger.Store

	barcodes BarcodeLookup
	log      *logrus.Entry
}

type Option func(*options)

type options struct {
	clock    func() time.Time
	barcodes BarcodeLookup
}

// WithClock fixes "now" across all stores for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// WithBarcodeLookup enables the external fallback for barcodes the
// catalog cannot resolve.
func WithBarcodeLookup(l BarcodeLookup) Option {
	return func(o *options) { o.barcodes = l }
}

func New(pools *pool.Manager, run txn.Policy, log *logrus.Logger, opts ...Option) *Tracker {
	if log == nil {
		log = logrus.StandardLogger()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	var profileOpts []profile.Option
	var ledgerOpts []ledger.Option
	if o.clock != nil {
		profileOpts = append(profileOpts, profile.WithClock(o.clock))
		ledgerOpts = append(ledgerOpts, ledger.WithClock(o.clock))
	}

	profiles := profile.New(pools, run, log, profileOpts...)
	cat := catalog.New(pools, run, log)
	led := ledger.New(pools, run, cat, profiles, log, ledgerOpts...)
	return &Tracker{
		Profiles: profiles,
		Catalog:  cat,
		Ledger:   led,
		barcodes: o.barcodes,
		log:      log.WithField("component", "tracker"),
	}
}

// ResolveBarcode resolves a barcode to a catalog product. On a catalog
// miss it falls back to the external lookup when one is configured,
// saving the product and binding the barcode so later scans stay local.
func (t *Tracker) ResolveBarcode(ctx context.Context, barcode string) (string, model.Facts, error) {
	name, facts, err := t.Catalog.ResolveBarcode(ctx, barcode)
	if err == nil || !errors.Is(err, catalog.ErrProductNotFound) || t.barcodes == nil {
		return name, facts, err
	}
	hit, lookupErr := t.barcodes.LookupBarcode(ctx, barcode)
	if lookupErr != nil {
		return "", model.Facts{}, fmt.Errorf("barcode %s not in catalog and external lookup failed: %w", barcode, lookupErr)
	}
	if err := t.Catalog.Save(ctx, hit.Name, hit.Facts); err != nil {
		return "", model.Facts{}, err
	}
	if err := t.Catalog.BindBarcode(ctx, barcode, hit.Name); err != nil {
		return "", model.Facts{}, err
	}
	t.log.WithFields(logrus.Fields{"barcode": barcode, "product": hit.Name}).Info("seeded catalog from barcode lookup")
	return hit.Name, hit.Facts, nil
}

// LogResult describes one successful food log action.
type LogResult struct {
	EditCode string
	Date     string
	Entry    model.Totals
	Day      model.Totals
}

// LogFood records weightGrams of a known product for the user and
// returns the entry's contribution plus the updated day totals.
func (t *Tracker) LogFood(ctx context.Context, userID int64, foodName string, weightGrams float64) (*LogResult, error) {
	code, err := t.Ledger.Append(ctx, userID, foodName, weightGrams)
	if err != nil {
		return nil, err
	}
	entry, err := t.Ledger.ByEditCode(ctx, code)
	if err != nil {
		return nil, err
	}
	day, err := t.Ledger.Totals(ctx, userID, entry.Date)
	if err != nil {
		return nil, err
	}
	return &LogResult{
		EditCode: code,
		Date:     entry.Date,
		Entry:    entry.Contribution(),
		Day:      day,
	}, nil
}

// Summary is a day's consumption against the user's targets. Targets
// and Remaining are nil when the user has no saved profile.
type Summary struct {
	Date      string
	Totals    model.Totals
	Targets   *model.Targets
	Remaining *model.Totals
	Entries   []model.Entry
}

// DailySummary reports the user's current logical day.
func (t *Tracker) DailySummary(ctx context.Context, userID int64) (*Summary, error) {
	date, err := t.Profiles.CurrentDay(ctx, userID)
	if err != nil {
		return nil, err
	}
	totals, err := t.Ledger.Totals(ctx, userID, date)
	if err != nil {
		return nil, err
	}
	entries, err := t.Ledger.ListForDay(ctx, userID, date)
	if err != nil {
		return nil, err
	}
	summary := &Summary{Date: date, Totals: totals, Entries: entries}

	targets, err := t.Profiles.Targets(ctx, userID)
	if errors.Is(err, profile.ErrUserNotFound) {
		return summary, nil
	}
	if err != nil {
		return nil, err
	}
	remaining := model.Totals{
		Calories: targets.Calories,
		Protein:  targets.Protein,
		Fat:      targets.Fat,
		Carbs:    targets.Carbs,
	}.Sub(totals)
	summary.Targets = &targets
	summary.Remaining = &remaining
	return summary, nil
}

// EditByCode changes the weight of the entry behind an edit code and
// returns the recomputed day totals.
func (t *Tracker) EditByCode(ctx context.Context, code string, weightGrams float64) (model.Totals, error) {
	entry, err := t.Ledger.ByEditCode(ctx, code)
	if err != nil {
		return model.Totals{}, err
	}
	userID, date, err := t.Ledger.Edit(ctx, entry.ID, weightGrams)
	if err != nil {
		return model.Totals{}, err
	}
	return t.Ledger.Totals(ctx, userID, date)
}

// DeleteByCode removes the entry behind an edit code and returns the
// recomputed day totals.
func (t *Tracker) DeleteByCode(ctx context.Context, code string) (model.Totals, error) {
	entry, err := t.Ledger.ByEditCode(ctx, code)
	if err != nil {
		return model.Totals{}, err
	}
	userID, date, err := t.Ledger.Delete(ctx, entry.ID)
	if err != nil {
		return model.Totals{}, err
	}
	return t.Ledger.Totals(ctx, userID, date)
}

// SetupProfile computes daily targets from body metrics and saves the
// full profile.
func (t *Tracker) SetupProfile(ctx context.Context, userID int64, in nutrition.Input, language string, tzOffsetHours int) (model.Targets, error) {
	targets, err := nutrition.Targets(in)
	if err != nil {
		return model.Targets{}, err
	}
	p := model.Profile{
		UserID:   userID,
		Gender:   string(in.Gender),
		Age:      in.Age,
		WeightKg: in.WeightKg,
		HeightCm: in.HeightCm,
		Activity: string(in.Activity),
		Goal:     string(in.Goal),
		Targets:  targets,
		Language: language,
		Timezone: tzOffsetHours,
	}
	if err := t.Profiles.Save(ctx, p); err != nil {
		return model.Targets{}, err
	}
	return targets, nil
}

// DeleteAllUserData erases the user's profile, entries, and aggregates.
// The stores are independent, so the cascade is two transactions; a
// failure in between leaves only orphan ledger rows, which a retry
// removes.
func (t *Tracker) DeleteAllUserData(ctx context.Context, userID int64) error {
	if err := t.Profiles.Delete(ctx, userID); err != nil {
		return err
	}
	if err := t.Ledger.PurgeUser(ctx, userID); err != nil {
		return fmt.Errorf("profile removed but ledger purge failed: %w", err)
	}
	t.log.WithField("user", userID).Info("erased all user data")
	return nil
}
