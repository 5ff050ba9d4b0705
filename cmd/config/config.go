package config

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/opwatch/opwatch/internal/diagnostics"
	"github.com/opwatch/opwatch/internal/http"
	"github.com/opwatch/opwatch/internal/query"
	"github.com/opwatch/opwatch/internal/securestore"
	"github.com/opwatch/opwatch/internal/store/sqlite"
	"github.com/opwatch/opwatch/internal/wrapper"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Wrapper     wrapper.Config            `flag:"wrapper"`
	Query       query.Config              `flag:"query"`
	Store       sqlite.Config             `flag:"store-sqlite"`
	Http        http.Config               `flag:"http"`
	Tracing     diagnostics.TracingConfig `flag:"tracing"`
	MetricsAddr string                    `flag:"metrics-addr" desc:"prometheus metrics server address" default:":9090"`
	LogLevel    string                    `flag:"log-level" desc:"can be one of: debug, info, warn, error, off" default:"info" validate:"oneof=debug info warn error off"`
	LogFormat   string                    `flag:"log-format" desc:"can be one of: text, json" default:"text" validate:"oneof=text json"`
}

type SecretsConfig struct {
	Store       sqlite.Config      `flag:"store-sqlite"`
	SecureStore securestore.Config `flag:"secure-store"`
	LogLevel    string             `flag:"log-level" desc:"can be one of: debug, info, warn, error, off" default:"warn" validate:"oneof=debug info warn error off"`
}

// Read loads the config file into vip, either the given file or
// opwatch.yaml from the working or home directory. A missing default file
// is not an error.
func Read(vip *viper.Viper, file string) error {
	if file != "" {
		vip.SetConfigFile(file)
	} else {
		vip.SetConfigName("opwatch")
		vip.AddConfigPath(".")
		vip.AddConfigPath("$HOME")
	}

	vip.SetEnvPrefix("opwatch")
	vip.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vip.AutomaticEnv()

	if err := vip.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}

	return nil
}

// Decode unmarshals vip into cfg and validates the result.
func Decode(vip *viper.Viper, cfg any) error {
	hooks := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)

	if err := vip.Unmarshal(cfg, viper.DecodeHook(hooks)); err != nil {
		return err
	}

	return Validate(cfg)
}

func Validate(cfg any) error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	return nil
}

// Bind registers a flag for every tagged field of cfg and binds it to the
// field's key in vip. Nested structs are flattened, their flag names
// prefixed by the parent's flag.
func Bind(cfg any, flags *pflag.FlagSet, vip *viper.Viper) error {
	return bind(flags, vip, cfg, "", "")
}

func bind(flags *pflag.FlagSet, vip *viper.Viper, cfg any, fPrefix string, kPrefix string) error {
	v := reflect.ValueOf(cfg).Elem()
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		flag := field.Tag.Get("flag")
		desc := field.Tag.Get("desc")
		value := field.Tag.Get("default")

		var n string
		if fPrefix == "" {
			n = flag
		} else if flag == "-" {
			n = fPrefix
		} else {
			n = fmt.Sprintf("%s-%s", fPrefix, flag)
		}

		var k string
		if kPrefix == "" {
			k = field.Name
		} else {
			k = fmt.Sprintf("%s.%s", kPrefix, field.Name)
		}

		switch field.Type.Kind() {
		case reflect.String:
			flags.String(n, value, desc)
		case reflect.Bool:
			flags.Bool(n, value == "true", desc)
		case reflect.Int:
			v, _ := strconv.Atoi(value)
			flags.Int(n, v, desc)
		case reflect.Int64:
			if field.Type == reflect.TypeOf(time.Duration(0)) {
				v, err := time.ParseDuration(value)
				if err != nil {
					return fmt.Errorf("flag %s: %w", n, err)
				}
				flags.Duration(n, v, desc)
			} else {
				v, _ := strconv.ParseInt(value, 10, 64)
				flags.Int64(n, v, desc)
			}
		case reflect.Float64:
			v, _ := strconv.ParseFloat(value, 64)
			flags.Float64(n, v, desc)
		case reflect.Slice:
			if field.Type.Elem().Kind() != reflect.String {
				panic(fmt.Sprintf("unsupported slice type: %s", field.Type))
			}
			var v []string
			if value != "" {
				v = strings.Split(value, ",")
			}
			flags.StringSlice(n, v, desc)
		case reflect.Map:
			if field.Type != reflect.TypeOf(map[string]string{}) {
				panic(fmt.Sprintf("unsupported map type: %s", field.Type.Kind()))
			}
			if value == "" {
				value = "{}"
			}
			var v map[string]string
			if err := json.Unmarshal([]byte(value), &v); err != nil {
				return err
			}
			flags.StringToString(n, v, desc)
		case reflect.Struct:
			if err := bind(flags, vip, v.Field(i).Addr().Interface(), n, k); err != nil {
				return err
			}
			continue
		default:
			panic(fmt.Sprintf("unsupported type %s", field.Type.Kind()))
		}

		_ = vip.BindPFlag(k, flags.Lookup(n))
	}

	return nil
}
