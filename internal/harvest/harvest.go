// Package harvest runs one bill collection: authenticate, identify the
// account holder, then collect and save the bills of every contract.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/telco-harvester/api/schemas"
	"github.com/xkilldash9x/telco-harvester/internal/auth"
	"github.com/xkilldash9x/telco-harvester/internal/billing"
	"github.com/xkilldash9x/telco-harvester/internal/bridge"
	"github.com/xkilldash9x/telco-harvester/internal/browser"
	"github.com/xkilldash9x/telco-harvester/internal/config"
	"github.com/xkilldash9x/telco-harvester/internal/contracts"
	"github.com/xkilldash9x/telco-harvester/internal/documents"
	"github.com/xkilldash9x/telco-harvester/internal/identity"
	"github.com/xkilldash9x/telco-harvester/internal/observability"
	"github.com/xkilldash9x/telco-harvester/internal/store"
)

const (
	ContentType        = "application/pdf"
	QualificationLabel = "phone_invoice"
)

// Run is the state of one harvest, threaded through every stage.
type Run struct {
	ID          string
	Started     time.Time
	Account     string
	Credentials schemas.Credentials
	Identity    *schemas.UserIdentity
	Contracts   []schemas.Contract
	Bills       []schemas.BillRecord
	// Saved counts the bills that were new to the vault.
	Saved int
	// Reused is true when an existing portal session was kept.
	Reused bool
}

// Harvester wires the stages together over one browser page.
type Harvester struct {
	cfg       *config.Config
	driver    browser.Driver
	bridge    *bridge.Bridge
	vault     store.Vault
	transport documents.Transport
	logger    *zap.Logger
}

// New builds a Harvester. The document transport is chosen by
// cfg.Harvest.Transport.
func New(cfg *config.Config, driver browser.Driver, b *bridge.Bridge, vault store.Vault, logger *zap.Logger) (*Harvester, error) {
	transport, err := documents.New(cfg.Harvest.Transport, cfg.Portal.BaseURL, driver, logger)
	if err != nil {
		return nil, err
	}
	return &Harvester{
		cfg:       cfg,
		driver:    driver,
		bridge:    b,
		vault:     vault,
		transport: transport,
		logger:    logger.Named("harvest"),
	}, nil
}

// Run performs a full harvest. A contract whose bills are unavailable is
// skipped; the other contracts are still saved and the vendor-down error is
// returned once the run completes. Every other failure aborts the run.
func (h *Harvester) Run(ctx context.Context) (*Run, error) {
	run := &Run{ID: uuid.NewString(), Started: time.Now()}
	logger := observability.ForRun(h.logger, run.ID, "")
	logger.Info("Harvest starting")

	if err := h.authenticate(ctx, run, logger); err != nil {
		return run, err
	}
	h.progress(ctx, run, bridge.StageAuthenticated, "", 0)

	if err := h.identify(ctx, run, logger); err != nil {
		return run, err
	}
	logger = observability.ForRun(h.logger, run.ID, run.Account)
	h.progress(ctx, run, bridge.StageIdentity, "", 0)

	if err := h.openBills(ctx, logger); err != nil {
		return run, err
	}
	found, err := contracts.NewEnumerator(h.driver, logger).Enumerate(ctx)
	if err != nil {
		return run, err
	}
	run.Contracts = found
	h.progress(ctx, run, bridge.StageContracts, "", len(found))

	var contractErrs []error
	assembler := billing.NewAssembler(h.driver, h.cfg.Harvest, logger)
	for _, c := range run.Contracts {
		err := h.harvestContract(ctx, run, assembler, c, logger)
		if err == nil {
			continue
		}
		if errors.Is(err, schemas.ErrVendorDown) && ctx.Err() == nil {
			logger.Error("Bills unavailable for contract, skipping it",
				zap.String("contract", c.ID), zap.Error(err))
			contractErrs = append(contractErrs, schemas.NewError("bills", fmt.Errorf("contract %s: %w", c.ID, err)))
			continue
		}
		return run, err
	}

	if run.Identity != nil {
		if err := h.vault.SaveIdentity(ctx, run.Account, *run.Identity); err != nil {
			return run, fmt.Errorf("saving identity: %w", err)
		}
	}
	h.progress(ctx, run, bridge.StageSaved, "", run.Saved)

	logger.Info("Harvest finished",
		zap.Int("contracts", len(run.Contracts)),
		zap.Int("bills", len(run.Bills)),
		zap.Int("saved", run.Saved),
		zap.Duration("elapsed", time.Since(run.Started)))
	return run, errors.Join(contractErrs...)
}

func (h *Harvester) authenticate(ctx context.Context, run *Run, logger *zap.Logger) error {
	stored, err := h.vault.GetCredentials(ctx, h.cfg.Auth.Login)
	if err != nil {
		return fmt.Errorf("loading stored credentials: %w", err)
	}
	stored = h.withConfiguredCredentials(stored)

	res, err := auth.NewMachine(h.driver, h.bridge, h.cfg, logger).EnsureAuthenticated(ctx, stored)
	if err != nil {
		return err
	}
	run.Credentials = res.Credentials
	run.Reused = res.Reused

	if run.Credentials.Login == "" {
		logger.Warn("No credentials captured, they will not be saved")
		return nil
	}
	if err := h.vault.SaveCredentials(ctx, run.Credentials); err != nil {
		return fmt.Errorf("saving credentials: %w", err)
	}
	return nil
}

// withConfiguredCredentials lets configured login and password take
// precedence, keeping the stored session tag when the login matches.
func (h *Harvester) withConfiguredCredentials(stored *schemas.Credentials) *schemas.Credentials {
	if h.cfg.Auth.Login == "" || h.cfg.Auth.Password == "" {
		return stored
	}
	creds := &schemas.Credentials{Login: h.cfg.Auth.Login, Password: h.cfg.Auth.Password}
	if stored != nil && stored.Login == creds.Login {
		creds.SessionTag = stored.SessionTag
	}
	return creds
}

func (h *Harvester) identify(ctx context.Context, run *Run, logger *zap.Logger) error {
	if err := h.driver.Navigate(ctx, h.cfg.Portal.PersonalInfosURL); err != nil {
		return fmt.Errorf("opening personal information: %w", err)
	}
	res, err := identity.NewExtractor(h.driver, h.cfg.Harvest.IdentityTimeout, logger).Extract(ctx, run.Credentials.Login)
	if err != nil {
		return err
	}
	if res.Account == "" {
		return schemas.NewError("identity", schemas.ErrUnknownAccount)
	}
	run.Account = res.Account
	run.Identity = res.Identity
	return nil
}

// openBills goes through the consumption routing page, then follows its
// link to the bills page. The bills page is opened directly when the link
// is missing.
func (h *Harvester) openBills(ctx context.Context, logger *zap.Logger) error {
	if err := h.driver.Navigate(ctx, h.cfg.Portal.InfosConsoURL); err != nil {
		return fmt.Errorf("opening consumption page: %w", err)
	}
	link := fmt.Sprintf(`a[href*=%q]`, h.cfg.Portal.BillsPath)
	ok, err := h.driver.Exists(ctx, link)
	if err != nil {
		return err
	}
	if ok {
		return h.driver.Click(ctx, link)
	}
	logger.Debug("Bills link not found, opening the bills page directly")
	return h.driver.Navigate(ctx, h.cfg.Portal.BaseURL+h.cfg.Portal.BillsPath)
}

func (h *Harvester) harvestContract(ctx context.Context, run *Run, assembler *billing.Assembler, c schemas.Contract, logger *zap.Logger) error {
	total := len(run.Contracts)
	if !c.IsCurrent() && c.Href != "" {
		target, err := contracts.URL(h.cfg.Portal.BaseURL, c)
		if err != nil {
			return err
		}
		if err := h.driver.Navigate(ctx, target); err != nil {
			return fmt.Errorf("opening contract %s: %w", c.ID, err)
		}
	}

	subPath := contracts.SubPath(c, total)
	records, err := assembler.Assemble(ctx, subPath)
	if err != nil {
		return err
	}
	records, err = h.transport.Attach(ctx, records)
	if err != nil {
		return err
	}
	h.progress(ctx, run, bridge.StageBills, c.ID, len(records))

	saved, err := h.vault.SaveBills(ctx, run.Account, records, store.SaveOptions{
		DedupeKeys:         contracts.DedupeKeys(total),
		ContentType:        ContentType,
		QualificationLabel: QualificationLabel,
		SubPath:            subPath,
	})
	if err != nil {
		return fmt.Errorf("saving bills of contract %s: %w", c.ID, err)
	}
	run.Bills = append(run.Bills, records...)
	run.Saved += saved
	logger.Info("Contract harvested",
		zap.String("contract", c.ID),
		zap.Int("bills", len(records)),
		zap.Int("saved", saved))
	return nil
}

func (h *Harvester) progress(ctx context.Context, run *Run, stage bridge.Stage, contract string, count int) {
	err := h.bridge.Post(ctx, bridge.TypeProgress, bridge.Progress{
		RunID:    run.ID,
		Stage:    stage,
		Contract: contract,
		Count:    count,
	})
	if err != nil {
		h.logger.Debug("Progress not delivered", zap.Error(err))
	}
}
