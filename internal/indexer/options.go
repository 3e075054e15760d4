package indexer

import (
	"log/slog"

	"github.com/Hikikomori041/m2-projetweb/internal/indexer/segment"
	"github.com/Hikikomori041/m2-projetweb/internal/indexer/tokenizer"
	"github.com/Hikikomori041/m2-projetweb/pkg/config"
	"github.com/Hikikomori041/m2-projetweb/pkg/metrics"
)

// Options configures a Store. Zero values are replaced by defaults.
type Options struct {
	Analyzer *tokenizer.Analyzer
	Codec    segment.Codec
	// MaxSegmentsBeforeMerge triggers a full merge at commit time once the
	// generation would hold more segments than this.
	MaxSegmentsBeforeMerge int
	Logger                 *slog.Logger
	Metrics                *metrics.Metrics
}

// OptionsFromConfig maps the indexer section of the configuration.
func OptionsFromConfig(cfg config.IndexerConfig) (Options, error) {
	codec, err := segment.ParseCodec(cfg.StoredFieldsCodec)
	if err != nil {
		return Options{}, err
	}
	analyzer := tokenizer.Default()
	switch {
	case cfg.DisableStopWords:
		analyzer = tokenizer.New(nil)
	case len(cfg.StopWords) > 0:
		analyzer = tokenizer.New(cfg.StopWords)
	}
	return Options{
		Analyzer:               analyzer,
		Codec:                  codec,
		MaxSegmentsBeforeMerge: cfg.MaxSegmentsBeforeMerge,
	}, nil
}

func (o Options) withDefaults() Options {
	if o.Analyzer == nil {
		o.Analyzer = tokenizer.Default()
	}
	if o.MaxSegmentsBeforeMerge <= 0 {
		o.MaxSegmentsBeforeMerge = 10
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	o.Logger = o.Logger.With("component", "indexer")
	return o
}
