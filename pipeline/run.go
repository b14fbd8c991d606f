package pipeline

import (
	"time"

	"github.com/YuminosukeSato/churnscope/artifact"
	"github.com/YuminosukeSato/churnscope/config"
	"github.com/YuminosukeSato/churnscope/dataset"
	"github.com/YuminosukeSato/churnscope/pkg/errors"
	"github.com/YuminosukeSato/churnscope/pkg/log"
)

// Result summarises a complete run.
type Result struct {
	Prepared  *Prepared
	Training  *TrainResult
	Bundle    *artifact.Bundle
	ModelPath string
	Stages    []Stage
}

// Run executes the whole batch: load, clean, encode, score, scale, persist
// the scaled table, reload it, train, evaluate and save the best model.
func Run(inputPath string, cfg *config.Config) (*Result, error) {
	var res *Result
	err := errors.SafeExecute("pipeline.Run", func() error {
		var err error
		res, err = run(inputPath, cfg)
		return err
	})
	return res, err
}

func run(inputPath string, cfg *config.Config) (*Result, error) {
	start := time.Now()
	logger := log.GetLoggerWithName("pipeline")
	tr := NewTracker()

	raw, err := Load(inputPath, cfg)
	if err != nil {
		return nil, tr.Fail(err)
	}
	if err := tr.Advance(StageLoaded); err != nil {
		return nil, err
	}

	prep, err := Prepare(raw, cfg, tr, true)
	if err != nil {
		return nil, err
	}

	// 学習はディスク上のスケール済みテーブルから読み直す
	scaled, err := dataset.LoadCSV(prep.Path, dataset.ReadOptions{})
	if err != nil {
		return nil, tr.Fail(err)
	}
	if err := tr.Advance(StageLoaded); err != nil {
		return nil, err
	}

	res, err := train(scaled, prep.Preprocessor, cfg, tr)
	if err != nil {
		return nil, err
	}
	res.Prepared = prep

	logger.Info("Pipeline completed",
		log.StageKey, StagePersisted.String(),
		log.ModelNameKey, res.Bundle.Metadata.ModelName,
		log.EstimatorIDKey, res.Bundle.Metadata.RunID,
		log.PathKey, res.ModelPath,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return res, nil
}

// TrainFromFile trains on a scaled CSV written by an earlier prepare run,
// pairing the model with the preprocessor saved next to it.
func TrainFromFile(scaledPath, preprocessorPath string, cfg *config.Config) (*Result, error) {
	var res *Result
	err := errors.SafeExecute("pipeline.TrainFromFile", func() error {
		tr := NewTracker()
		prep, err := artifact.LoadPreprocessor(preprocessorPath)
		if err != nil {
			return tr.Fail(err)
		}
		if prep.Target != cfg.Data.Target {
			return tr.Fail(errors.NewValidationError("data.target", "differs from the preprocessor target", cfg.Data.Target))
		}
		scaled, err := dataset.LoadCSV(scaledPath, dataset.ReadOptions{})
		if err != nil {
			return tr.Fail(err)
		}
		if err := tr.Advance(StageLoaded); err != nil {
			return err
		}
		res, err = train(scaled, prep, cfg, tr)
		return err
	})
	return res, err
}

func train(scaled *dataset.Table, prep *artifact.Preprocessor, cfg *config.Config, tr *Tracker) (*Result, error) {
	tres, err := Train(scaled, cfg, tr)
	if err != nil {
		return nil, err
	}
	bundle, err := NewBundle(tres, prep)
	if err != nil {
		return nil, tr.Fail(err)
	}
	path := cfg.Path(cfg.Output.Model)
	if err := artifact.Save(path, bundle); err != nil {
		return nil, tr.Fail(err)
	}
	if err := writeYAML(cfg.Path(cfg.Output.Report), tres); err != nil {
		return nil, tr.Fail(err)
	}
	if err := tr.Advance(StagePersisted); err != nil {
		return nil, err
	}
	return &Result{
		Training:  tres,
		Bundle:    bundle,
		ModelPath: path,
		Stages:    tr.History(),
	}, nil
}
