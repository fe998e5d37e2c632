package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/ajitpratap0/transcript-mcp/pkg/protocol"
	"github.com/ajitpratap0/transcript-mcp/pkg/transcript"
)

// TranscriptToolName is the name clients call.
const TranscriptToolName = "transcript_yt"

const transcriptToolDescription = "Fetches YouTube transcript segments from a video URL for LLM consumption."

var transcriptInputSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "videoUrl": {"type": "string", "description": "Full YouTube video URL."},
    "preferredLanguages": {
      "type": "array",
      "items": {"type": "string"},
      "description": "Optional ordered language codes preference, e.g., ['pt-BR','en']."
    }
  },
  "required": ["videoUrl"],
  "additionalProperties": false
}`)

// TranscriptTool describes the transcript tool.
func TranscriptTool() protocol.Tool {
	return protocol.Tool{
		Name:        TranscriptToolName,
		Title:       "YouTube transcript",
		Description: transcriptToolDescription,
		InputSchema: transcriptInputSchema,
	}
}

type transcriptArgs struct {
	VideoURL           string   `json:"videoUrl" validate:"required"`
	PreferredLanguages []string `json:"preferredLanguages" validate:"omitempty,dive,required"`
}

var argsValidator = validator.New(validator.WithRequiredStructEnabled())

// TranscriptHandler runs the transcript tool against f. A nil transcript
// becomes an isError result with code transcript_unavailable.
func TranscriptHandler(f transcript.Fetcher) ToolHandler {
	return func(ctx context.Context, raw json.RawMessage) (*protocol.CallToolResult, error) {
		var args transcriptArgs
		if len(raw) > 0 {
			if err := decodeArgs(raw, &args); err != nil {
				return protocol.ToolError(fmt.Sprintf("Invalid arguments: %v", err)), nil
			}
		}
		if err := argsValidator.Struct(args); err != nil {
			return protocol.ToolError("Invalid arguments: videoUrl is required"), nil
		}

		segments := f.Fetch(ctx, transcript.Request{
			VideoURL:           args.VideoURL,
			PreferredLanguages: args.PreferredLanguages,
		})
		if segments == nil {
			return protocol.ToolError(`{"code":"transcript_unavailable"}`), nil
		}

		text, err := json.Marshal(segments)
		if err != nil {
			return nil, err
		}
		return &protocol.CallToolResult{Content: []protocol.Content{protocol.TextContent(string(text))}}, nil
	}
}

// decodeArgs rejects properties the input schema does not declare.
func decodeArgs(raw json.RawMessage, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
