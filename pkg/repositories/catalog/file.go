package catalog

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/fadedpez/pointledger/internal/logging"
	"github.com/fadedpez/pointledger/pkg/entities"
	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// File is the on-disk shape of a catalog (YAML, JSON or TOML)
type File struct {
	Exchange entities.ExchangeSettings `mapstructure:"exchange"`
	Items    []entities.WithdrawalItem `mapstructure:"items"`
	Plans    []entities.PremiumPlan    `mapstructure:"plans"`
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// decimalHook lets catalog files write amounts as strings or numbers
func decimalHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != decimalType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return decimal.NewFromString(strings.TrimSpace(v))
		case float64:
			return decimal.NewFromFloat(v), nil
		case float32:
			return decimal.NewFromFloat32(v), nil
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case int64:
			return decimal.NewFromInt(v), nil
		}
		return data, nil
	}
}

// LoadFile reads a catalog file; the format follows the file extension
func LoadFile(path string) (*File, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}

	var f File
	if err := v.Unmarshal(&f, viper.DecodeHook(decimalHook())); err != nil {
		return nil, fmt.Errorf("failed to decode catalog %s: %w", path, err)
	}
	return &f, nil
}

// Seed writes every entry of f into repo, stopping at the first invalid one
func Seed(ctx context.Context, repo Repository, f *File) error {
	if err := repo.PutExchangeSettings(ctx, &f.Exchange); err != nil {
		return err
	}
	for i := range f.Items {
		if err := repo.PutItem(ctx, &f.Items[i]); err != nil {
			return err
		}
	}
	for i := range f.Plans {
		if err := repo.PutPlan(ctx, &f.Plans[i]); err != nil {
			return err
		}
	}
	logging.Default.Info("[CATALOG] loaded %d item(s), %d plan(s), exchange enabled=%t",
		len(f.Items), len(f.Plans), f.Exchange.Enabled)
	return nil
}

// LoadAndSeed is LoadFile followed by Seed
func LoadAndSeed(ctx context.Context, repo Repository, path string) error {
	f, err := LoadFile(path)
	if err != nil {
		return err
	}
	return Seed(ctx, repo, f)
}
