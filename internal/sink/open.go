package sink

import (
	"context"
	"fmt"
	"io"
	"os"
)

// Kinds of sink accepted by Open.
const (
	KindStdout   = "stdout"
	KindFile     = "file"
	KindSQLite   = "sqlite"
	KindPostgres = "postgres"
	KindRedis    = "redis"
	KindMongo    = "mongo"
	KindInflux   = "influx"
	KindBadger   = "badger"
)

// Spec describes one configured output.
type Spec struct {
	Kind string `mapstructure:"kind" yaml:"kind" validate:"required,oneof=stdout file sqlite postgres redis mongo influx badger"`

	// file, sqlite, badger
	Path string `mapstructure:"path" yaml:"path,omitempty" validate:"required_if=Kind file,required_if=Kind sqlite"`
	// postgres
	DSN   string `mapstructure:"dsn" yaml:"dsn,omitempty" validate:"required_if=Kind postgres"`
	Table string `mapstructure:"table" yaml:"table,omitempty"`
	// redis
	Addr         string `mapstructure:"addr" yaml:"addr,omitempty" validate:"required_if=Kind redis"`
	StreamPrefix string `mapstructure:"stream_prefix" yaml:"stream_prefix,omitempty"`
	MaxLen       int64  `mapstructure:"max_len" yaml:"max_len,omitempty" validate:"gte=0"`
	// mongo
	URI      string `mapstructure:"uri" yaml:"uri,omitempty" validate:"required_if=Kind mongo"`
	Database string `mapstructure:"database" yaml:"database,omitempty"`
	// influx
	URL    string `mapstructure:"url" yaml:"url,omitempty" validate:"required_if=Kind influx"`
	Token  string `mapstructure:"token" yaml:"token,omitempty"`
	Org    string `mapstructure:"org" yaml:"org,omitempty"`
	Bucket string `mapstructure:"bucket" yaml:"bucket,omitempty" validate:"required_if=Kind influx"`
}

// Open creates the sink a spec describes. Stdout sinks write to stdout, or
// os.Stdout when it is nil.
func Open(ctx context.Context, spec Spec, stdout io.Writer) (Sink, error) {
	switch spec.Kind {
	case KindStdout:
		if stdout == nil {
			stdout = os.Stdout
		}
		return NewJSONLines("stdout", stdout), nil
	case KindFile:
		return OpenFile(spec.Path)
	case KindSQLite:
		return OpenSQLite(spec.Path)
	case KindPostgres:
		return OpenPostgres(ctx, spec.DSN, spec.Table)
	case KindRedis:
		return OpenRedisStreams(ctx, spec.Addr, spec.StreamPrefix, spec.MaxLen)
	case KindMongo:
		return OpenMongo(ctx, spec.URI, spec.Database)
	case KindInflux:
		return OpenInflux(spec.URL, spec.Token, spec.Org, spec.Bucket), nil
	case KindBadger:
		return OpenBadger(spec.Path)
	default:
		return nil, fmt.Errorf("unknown sink kind %q", spec.Kind)
	}
}

// OpenAll opens every spec. On failure the sinks opened so far are closed.
func OpenAll(ctx context.Context, specs []Spec, stdout io.Writer) ([]Sink, error) {
	out := make([]Sink, 0, len(specs))
	for i, spec := range specs {
		s, err := Open(ctx, spec, stdout)
		if err != nil {
			for _, opened := range out {
				_ = opened.Close()
			}
			return nil, fmt.Errorf("output %d (%s): %w", i, spec.Kind, err)
		}
		out = append(out, s)
	}
	return out, nil
}
