package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fadedpez/pointledger/internal/app"
	"github.com/fadedpez/pointledger/internal/config"
	"github.com/fadedpez/pointledger/pkg/entities"
	"github.com/fadedpez/pointledger/pkg/services/ledger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type LedgerctlTestSuite struct {
	suite.Suite
	dir string
}

func TestLedgerctlSuite(t *testing.T) {
	suite.Run(t, new(LedgerctlTestSuite))
}

func (s *LedgerctlTestSuite) SetupTest() {
	s.dir = s.T().TempDir()
	s.T().Setenv("DATA_DIR", s.dir)
	s.T().Setenv("LEDGER_STORE", config.StoreSQLite)
	s.T().Setenv("WORKFLOW_STORE", config.StoreSQLite)
	s.T().Setenv("SQLITE_PATH", filepath.Join(s.dir, "ledger.db"))
	s.T().Setenv("LOG_LEVEL", "error")
}

func (s *LedgerctlTestSuite) run(args ...string) (string, error) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func (s *LedgerctlTestSuite) seed() {
	cfg, err := config.Load()
	s.Require().NoError(err)

	ctx := context.Background()
	stores, err := app.OpenStores(ctx, cfg)
	s.Require().NoError(err)
	defer stores.Close()

	svc := ledger.NewService(stores.Ledger)
	_, _, err = svc.OpenAccount(ctx, "u1")
	s.Require().NoError(err)
	_, err = svc.Credit(ctx, ledger.Posting{
		UserID: "u1", Ledger: entities.LedgerWallet, Amount: decimal.NewFromInt(40),
		Kind: entities.KindDeposit, ReferenceID: "dep-1",
	})
	s.Require().NoError(err)
}

func (s *LedgerctlTestSuite) TestMigrateAndStatus() {
	out, err := s.run("migrate")
	s.Require().NoError(err)
	s.Contains(out, "sqlite: applied 2 migrations")

	out, err = s.run("migrate")
	s.Require().NoError(err)
	s.Contains(out, "sqlite: applied 0 migrations")

	out, err = s.run("migrate", "--status")
	s.Require().NoError(err)
	s.Contains(out, "sqlite 001 applied")
	s.Contains(out, "sqlite 002 applied")
}

func (s *LedgerctlTestSuite) TestMigrateWithoutSQLStore() {
	s.T().Setenv("LEDGER_STORE", config.StoreMemory)
	s.T().Setenv("WORKFLOW_STORE", config.StoreMemory)

	out, err := s.run("migrate")
	s.Require().NoError(err)
	s.Contains(out, "nothing to migrate")
}

func (s *LedgerctlTestSuite) TestCreateMigration() {
	dir := filepath.Join(s.dir, "migrations")

	out, err := s.run("create-migration", "add audit column", "--dir", dir)
	s.Require().NoError(err)
	s.Contains(out, "001_add_audit_column.sql")

	_, err = os.Stat(filepath.Join(dir, "001_add_audit_column.sql"))
	s.NoError(err)

	_, err = s.run("create-migration", "x", "--dialect", "oracle", "--dir", dir)
	s.Error(err)
}

func (s *LedgerctlTestSuite) TestBalanceAndVerify() {
	s.seed()

	out, err := s.run("balance", "u1")
	s.Require().NoError(err)
	s.Regexp(`wallet: 40(\.0+)?\n`, out)
	s.Contains(out, "dep-1")

	out, err = s.run("verify", "u1")
	s.Require().NoError(err)
	s.Regexp(`u1\s+wallet\s+\S+\s+\S+\s+ok`, out)
	s.NotContains(out, "MISMATCH")

	_, err = s.run("verify", "ghost")
	s.Error(err)

	_, err = s.run("balance")
	s.Error(err, "user id is required")
}
