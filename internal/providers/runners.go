package providers

import (
	"context"
	"fmt"
	"log/slog"

	"speechflow/internal/logging"
	"speechflow/internal/pipeline"
	"speechflow/internal/services"
)

// CredentialAccessCode names the credential carrying the provider access code.
const CredentialAccessCode = "GoogleASR"

const (
	resultTypeBPF   = "text/plain"
	resultTypeEmuDB = "application/json"
)

// outcomeFrom converts a pipeline response into a stage outcome named after
// the first input.
func (c *BASClient) outcomeFrom(resp PipelineResponse, err error, inputs []pipeline.FileRef, resultType, webService string) pipeline.Outcome {
	if err != nil {
		return pipeline.Outcome{Err: err, Protocol: err.Error(), WebService: webService}
	}
	out := pipeline.Outcome{Protocol: resp.Protocol(), WebService: webService}
	if !resp.Succeeded() {
		out.Err = services.Wrap(services.ErrProvider, "providers", webService, "service reported failure", nil)
		return out
	}
	name := ""
	if len(inputs) > 0 {
		name = inputs[0].Name()
	}
	out.Results = []pipeline.FileRef{pipeline.FileRefFromURL(resp.DownloadLink, name, resultType, c.now().UnixMilli())}
	return out
}

// ASRRunner runs speech recognition through ASR_G2P_CHUNKER and produces a
// BAS Partitur file.
type ASRRunner struct {
	Client *BASClient
	Logger *slog.Logger
}

// Run implements pipeline.Runner.
func (r ASRRunner) Run(ctx context.Context, req pipeline.RunRequest) pipeline.Outcome {
	webService := req.Language.ASR + "ASR"
	if len(req.Inputs) == 0 {
		return pipeline.Outcome{Err: missingInput("asr"), Protocol: "ERROR: no audio input", WebService: webService}
	}

	var params []Param
	if len(req.Inputs) > 1 {
		params = append(params, Param{"TEXT", req.Inputs[1].URL})
	}
	params = append(params,
		Param{"SIGNAL", req.Inputs[0].URL},
		Param{"PIPE", "ASR_G2P_CHUNKER"},
		Param{"ASRType", "call" + req.Language.ASR + "ASR"},
		Param{"LANGUAGE", req.Language.Code},
		Param{"MAUSVARIANT", "runPipeline"},
		Param{"OUTFORMAT", "bpf"},
	)
	if code := req.Credential(CredentialAccessCode); code != "" {
		params = append(params, Param{"ACCESSCODE", code})
	}

	logging.WithContext(ctx, logging.NewComponentLogger(r.Logger, "asr")).Info("running speech recognition",
		logging.String("host", req.Language.Host),
		logging.String("asr", webService),
		logging.String("language", req.Language.Code),
	)
	resp, err := r.Client.RunPipeline(ctx, req.Language.Host, params)
	return r.Client.outcomeFrom(resp, err, req.Inputs, resultTypeBPF, webService)
}

// AlignmentRunner runs G2P_MAUS over the audio and the best transcript:
// the manual transcription when that stage is enabled, else the ASR result.
type AlignmentRunner struct {
	Client *BASClient
	Logger *slog.Logger
}

// Run implements pipeline.Runner.
func (r AlignmentRunner) Run(ctx context.Context, req pipeline.RunRequest) pipeline.Outcome {
	const webService = "MAUS"
	if len(req.Inputs) == 0 {
		return pipeline.Outcome{Err: missingInput("alignment"), Protocol: "ERROR: no audio input", WebService: webService}
	}
	text := alignmentText(req)
	if text == "" {
		return pipeline.Outcome{
			Err:        services.Wrap(services.ErrValidation, "providers", "alignment", "no transcript available", nil),
			Protocol:   "ERROR: no transcript available for word alignment",
			WebService: webService,
		}
	}

	language := req.Language.MausLanguage
	if language == "" {
		language = req.Language.Code
	}
	params := []Param{
		{"TEXT", text},
		{"SIGNAL", req.Inputs[0].URL},
		{"PIPE", "G2P_MAUS"},
		{"LANGUAGE", language},
		{"MAUSVARIANT", "runPipeline"},
		{"OUTFORMAT", "emuDB"},
	}
	if code := req.Credential(CredentialAccessCode); code != "" {
		params = append(params, Param{"ACCESSCODE", code})
	}

	logging.WithContext(ctx, logging.NewComponentLogger(r.Logger, "alignment")).Info("running word alignment",
		logging.String("host", req.Language.Host),
		logging.String("language", language),
	)
	resp, err := r.Client.RunPipeline(ctx, req.Language.Host, params)
	return r.Client.outcomeFrom(resp, err, req.Inputs, resultTypeEmuDB, webService)
}

// alignmentText picks the transcript URL: the manual transcription when
// that stage is enabled and produced one, then the ASR result, then a
// submitted transcript.
func alignmentText(req pipeline.RunRequest) string {
	var asr, manual *pipeline.UpstreamStage
	for i := range req.Stages {
		switch req.Stages[i].Kind {
		case pipeline.KindASR:
			asr = &req.Stages[i]
		case pipeline.KindManualTranscription:
			manual = &req.Stages[i]
		}
	}
	if manual != nil && manual.Enabled && manual.LastResult != nil {
		return manual.LastResult.URL
	}
	if asr != nil && asr.LastResult != nil {
		return asr.LastResult.URL
	}
	if len(req.Inputs) > 1 {
		return req.Inputs[1].URL
	}
	return ""
}

func missingInput(stage string) error {
	return services.Wrap(services.ErrValidation, "providers", stage, fmt.Sprintf("%s needs at least one input", stage), nil)
}
