package ledger

import (
	"fmt"

	enLocale "github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslations "github.com/go-playground/validator/v10/translations/en"
)

// Config holds every tunable the ledger engine needs, grouped the way the
// chain's components consume them. Every field has a sane default so a
// zero-value-free Config can be produced with NewDefaultConfig and
// adjusted from there.
type Config struct {
	Currency struct {
		Name     string `conf:"default:Ledger Coin"`
		Code     string `conf:"default:LGC"`
		Symbol   string `conf:"default:L"`
		Decimals int    `conf:"default:2" validate:"min=0,max=18"`
	}

	Accounts struct {
		FaucetName string `conf:"default:faucet"`
		DrainName  string `conf:"default:drain"`
	}

	Genesis struct {
		CoinsAmount float64 `conf:"default:1000" validate:"gte=0"`
	}

	Mempool struct {
		MaxPendingTransactions      int `conf:"default:10" validate:"min=1"`
		AutoCreateBlockDelaySeconds int `conf:"default:30" validate:"min=1"`
	}

	Mining struct {
		Difficulty                uint    `conf:"default:4"`
		RewardPerMinedTransaction float64 `conf:"default:0.1" validate:"gte=0"`
		FixedTransactionFee       float64 `conf:"default:0.05" validate:"gte=0"`
		DefaultFeePercentage      float64 `conf:"default:0.01" validate:"gte=0,lte=1"`
		BlockMinerPoolSize        int     `conf:"default:4" validate:"min=1"`
		MaxBlockNonce             uint64  `conf:"default:1000000000" validate:"min=1"`
	}

	Contracts struct {
		DeployBaseFee       float64 `conf:"default:1" validate:"gte=0"`
		DeployPerByteFee    float64 `conf:"default:0.001" validate:"gte=0"`
		GasPrice            float64 `conf:"default:0.0001" validate:"gte=0"`
		DefaultGasLimit     uint64  `conf:"default:1000" validate:"min=1,ltefield=MaxGasLimit"`
		MaxGasLimit         uint64  `conf:"default:1000000" validate:"min=1"`
		GasCostContractCall uint64  `conf:"default:21"`
		GasCostStorageRead  uint64  `conf:"default:5"`
		GasCostStorageWrite uint64  `conf:"default:20"`
	}

	AddressFormat string `conf:"default:eth-checksum"`
}

// NewDefaultConfig returns a Config populated with the defaults named in
// the conf tags above, for callers (tests, the demo binary before conf
// parsing) that don't need to load configuration from the environment.
func NewDefaultConfig() Config {
	var cfg Config

	cfg.Currency.Name = "Ledger Coin"
	cfg.Currency.Code = "LGC"
	cfg.Currency.Symbol = "L"
	cfg.Currency.Decimals = 2

	cfg.Accounts.FaucetName = "faucet"
	cfg.Accounts.DrainName = "drain"

	cfg.Genesis.CoinsAmount = 1000

	cfg.Mempool.MaxPendingTransactions = 10
	cfg.Mempool.AutoCreateBlockDelaySeconds = 30

	cfg.Mining.Difficulty = 4
	cfg.Mining.RewardPerMinedTransaction = 0.1
	cfg.Mining.FixedTransactionFee = 0.05
	cfg.Mining.DefaultFeePercentage = 0.01
	cfg.Mining.BlockMinerPoolSize = 4
	cfg.Mining.MaxBlockNonce = 1_000_000_000

	cfg.Contracts.DeployBaseFee = 1
	cfg.Contracts.DeployPerByteFee = 0.001
	cfg.Contracts.GasPrice = 0.0001
	cfg.Contracts.DefaultGasLimit = 1000
	cfg.Contracts.MaxGasLimit = 1_000_000
	cfg.Contracts.GasCostContractCall = 21
	cfg.Contracts.GasCostStorageRead = 5
	cfg.Contracts.GasCostStorageWrite = 20

	cfg.AddressFormat = "eth-checksum"

	return cfg
}

// Validate checks cfg's numeric constraints, translating the first
// failure into a human-readable message.
func (cfg Config) Validate() error {
	validate := validator.New()

	enLoc := enLocale.New()
	uni := ut.New(enLoc, enLoc)
	trans, _ := uni.GetTranslator("en")
	_ = enTranslations.RegisterDefaultTranslations(validate, trans)

	if err := validate.Struct(cfg); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return err
		}

		return fmt.Errorf("invalid configuration: %s", verrs[0].Translate(trans))
	}

	return nil
}
