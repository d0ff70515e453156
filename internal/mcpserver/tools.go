package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/kandev/claude-runner/internal/common/logger"
	"github.com/kandev/claude-runner/internal/runstore"
)

// Tool names as the engine sees them.
const (
	ToolRestartSession = "restart_session"
	ToolSubmitFeedback = "submit_feedback"
	ToolLogCorrection  = "log_correction"
)

const restartDescription = "Request a restart of the Claude session. Use this when the session " +
	"is in a bad state, tools stopped responding, or a fresh start is needed. The current " +
	"run completes first and the conversation is resumed from disk afterwards."

const restartResultText = "Session restart has been requested. The current run will complete " +
	"and a fresh session will be established. Your conversation context will be preserved on disk."

const feedbackDescription = "Submit user feedback about the session or agent output. Call this when " +
	"the user explicitly rates the session, expresses satisfaction or dissatisfaction, or " +
	"provides qualitative feedback about quality.\n\n" +
	"Use rating 'positive' for praise and 'negative' for criticism. Put the user's exact words " +
	"or a brief summary in comment."

const correctionDescription = "Log a correction whenever the user redirects, corrects, or changes what " +
	"you did or assumed. Call this BEFORE fixing the issue.\n\n" +
	"If the user is steering you away from something you already did or decided, that is a " +
	"correction: pointing out errors, asking you to redo work, clarifying what they wanted, saying " +
	"you missed something, or saying the approach was wrong. When in doubt, log it.\n\n" +
	"Fields:\n" +
	"- agent_action: what you did or assumed (be honest and specific)\n" +
	"- user_correction: exactly what the user said should have happened instead\n" +
	"- correction_type: incomplete (missed something), incorrect (did the wrong thing), " +
	"out_of_scope (wrong files or area), style (right result but wrong approach or pattern)"

// FeedbackRecorder is implemented by runstore.Store.
type FeedbackRecorder interface {
	RecordFeedback(ctx context.Context, fb *runstore.Feedback) error
	RecordCorrection(ctx context.Context, c *runstore.Correction) error
}

func registerSessionTools(s *server.MCPServer, restarter RestartRequester, log *logger.Logger) {
	s.AddTool(
		mcp.NewTool(ToolRestartSession, mcp.WithDescription(restartDescription)),
		restartSessionHandler(restarter, log),
	)
}

func registerFeedbackTools(s *server.MCPServer, cfg Config, log *logger.Logger) {
	s.AddTool(
		mcp.NewTool(ToolSubmitFeedback,
			mcp.WithDescription(feedbackDescription),
			mcp.WithString("rating",
				mcp.Required(),
				mcp.Enum(string(runstore.RatingPositive), string(runstore.RatingNegative)),
				mcp.Description("User sentiment: 'positive' for satisfaction, 'negative' for dissatisfaction."),
			),
			mcp.WithString("comment",
				mcp.Required(),
				mcp.Description("The user's feedback in their own words or a concise summary."),
			),
		),
		submitFeedbackHandler(cfg, log),
	)

	types := make([]string, 0, len(runstore.CorrectionTypes))
	for _, t := range runstore.CorrectionTypes {
		types = append(types, string(t))
	}
	s.AddTool(
		mcp.NewTool(ToolLogCorrection,
			mcp.WithDescription(correctionDescription),
			mcp.WithString("correction_type",
				mcp.Required(),
				mcp.Enum(types...),
				mcp.Description("The type of correction: incomplete, incorrect, out_of_scope or style."),
			),
			mcp.WithString("agent_action",
				mcp.Required(),
				mcp.Description("What the agent did or assumed before the correction."),
			),
			mcp.WithString("user_correction",
				mcp.Required(),
				mcp.Description("What the user said should have happened instead."),
			),
		),
		logCorrectionHandler(cfg, log),
	)
}

func restartSessionHandler(restarter RestartRequester, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		restarter.RequestRestart()
		log.Info("session restart requested by the engine")
		return mcp.NewToolResultText(restartResultText), nil
	}
}

func submitFeedbackHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		rating, err := req.RequireString("rating")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		comment := req.GetString("comment", "")

		fb := &runstore.Feedback{
			SessionID: cfg.SessionID,
			Rating:    runstore.Rating(rating),
			Comment:   comment,
		}
		if !fb.Rating.Valid() {
			return mcp.NewToolResultError(fmt.Sprintf("invalid rating %q: must be positive or negative", rating)), nil
		}

		if cfg.Recorder == nil {
			log.Info("feedback received",
				zap.String("session_id", fb.SessionID),
				zap.String("rating", rating),
				zap.String("comment", comment))
		} else if err := cfg.Recorder.RecordFeedback(ctx, fb); err != nil {
			log.Error("failed to record feedback", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Feedback noted but could not be recorded: %v", err)), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf(
			"Feedback recorded (rating=%s). Thank you for helping improve the platform.", rating)), nil
	}
}

func logCorrectionHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		kind, err := req.RequireString("correction_type")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		c := &runstore.Correction{
			SessionID:      cfg.SessionID,
			CorrectionType: runstore.CorrectionType(kind),
			AgentAction:    req.GetString("agent_action", ""),
			UserCorrection: req.GetString("user_correction", ""),
			Context:        cfg.SessionContext,
		}
		if !c.CorrectionType.Valid() {
			return mcp.NewToolResultError(fmt.Sprintf(
				"invalid correction_type %q: must be incomplete, incorrect, out_of_scope or style", kind)), nil
		}

		if cfg.Recorder == nil {
			log.Info("correction received",
				zap.String("session_id", c.SessionID),
				zap.String("correction_type", kind),
				zap.String("agent_action", c.AgentAction),
				zap.String("user_correction", c.UserCorrection))
		} else if err := cfg.Recorder.RecordCorrection(ctx, c); err != nil {
			log.Error("failed to record correction", zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("Failed to log correction: %v", err)), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf(
			"Correction logged: type=%s. This will be reviewed in the next feedback loop cycle.", kind)), nil
	}
}
