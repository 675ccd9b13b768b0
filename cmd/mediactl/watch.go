package main

import (
	"context"
	"fmt"

	"github.com/vnmchuo/transcribe-client/internal/api"
	"github.com/vnmchuo/transcribe-client/internal/job"
	"github.com/vnmchuo/transcribe-client/internal/poller"
)

func (a *app) newJobPoller(name string, fetch poller.Fetcher[*job.Job]) *poller.Poller[*job.Job] {
	var last job.Status
	return poller.New(poller.Config[*job.Job]{
		Name:          name,
		Fetch:         fetch,
		Terminal:      job.Terminal,
		Interval:      a.cfg.PollInterval,
		ErrorInterval: a.cfg.PollErrorInterval,
		Logger:        a.log,
		Tracer:        a.tracer,
		OnUpdate: func(subjectID int64, j *job.Job) {
			if j == nil {
				fmt.Fprintf(a.stdout, "%s %d: no job yet\n", name, subjectID)
				return
			}
			if j.Status != last {
				last = j.Status
				fmt.Fprintf(a.stdout, "%s %d: job %d %s\n", name, subjectID, j.ID, j.Status)
			}
		},
		OnError: func(subjectID int64, err error) {
			fmt.Fprintf(a.stderr, "%s %d: %v (retrying in %s)\n", name, subjectID, err, a.cfg.PollErrorInterval)
		},
	})
}

// follow polls one subject to the end and returns its final job.
func follow(ctx context.Context, p *poller.Poller[*job.Job], subjectID int64) (*job.Job, error) {
	s := p.Start(ctx, subjectID)
	defer p.Cancel(s)

	state, err := s.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if state == poller.StateCancelled {
		return nil, context.Canceled
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return s.Snapshot(), nil
}

func runWatch(ctx context.Context, a *app, args []string) error {
	fs := a.flags("watch")
	fileID := fs.Int64("file", 0, "media file id")
	analyze := fs.String("analyze", "", "request an analysis of this type once transcribed")
	prompt := fs.String("prompt", "", "extra instructions for the analysis")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *fileID <= 0 {
		return fmt.Errorf("%w: --file is required", errUsage)
	}
	var analysisType api.AnalysisType
	if *analyze != "" {
		t, err := api.ParseAnalysisType(*analyze)
		if err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		analysisType = t
	}

	transcriptions := a.newJobPoller("transcription", a.client.LatestTranscription)
	defer transcriptions.Stop()

	transcript, err := follow(ctx, transcriptions, *fileID)
	if err != nil {
		return err
	}
	if transcript.Status == job.StatusFailed {
		return fmt.Errorf("transcription %d failed: %s", transcript.ID, transcript.ErrorMessage)
	}
	fmt.Fprintf(a.stdout, "\n%s\n", transcript.Result)

	if analysisType == "" {
		return nil
	}
	req, err := a.client.RequestAnalysis(ctx, transcript.ID, analysisType, *prompt)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "requested %s analysis %d\n", req.Type, req.ID)

	analyses := a.newJobPoller("analysis", a.client.LatestAnalysis)
	defer analyses.Stop()

	analysis, err := follow(ctx, analyses, transcript.ID)
	if err != nil {
		return err
	}
	if analysis.Status == job.StatusFailed {
		return fmt.Errorf("analysis %d failed: %s", analysis.ID, analysis.ErrorMessage)
	}
	fmt.Fprintf(a.stdout, "\n%s\n", analysis.Result)
	return nil
}
