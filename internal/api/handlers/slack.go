package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/feedbacktaker/chatbridge/internal/errs"
	"github.com/feedbacktaker/chatbridge/internal/logging"
	"github.com/feedbacktaker/chatbridge/internal/notify"
	"github.com/feedbacktaker/chatbridge/internal/slack"
)

// modalOpenBudget bounds the views.open call. Slack abandons the webhook
// after 3 seconds; staying under it leaves room for the response itself.
const modalOpenBudget = 2500 * time.Millisecond

// sideEffectBudget bounds the post-acceptance notification fan-out, which
// runs detached from the webhook request.
const sideEffectBudget = 15 * time.Second

// SlackCommands handles slash-command webhooks: verify the signature over
// the raw body, then open the feedback modal within the platform deadline.
func (h *Handler) SlackCommands(c *gin.Context) {
	rawBody, ok := h.verifiedBody(c)
	if !ok {
		return
	}

	cmd, err := slack.ParseSlashCommand(rawBody)
	if err != nil {
		respondError(c, err)
		return
	}

	switch cmd.Command {
	case slack.CommandFeedback, slack.CommandFeedbackTaker:
	default:
		// Unknown commands get a visible answer rather than a silent 200.
		c.JSON(http.StatusOK, gin.H{"response_type": "ephemeral", "text": "Unknown command."})
		return
	}

	// Command text naming a category pre-selects it in the modal.
	initialCategory := ""
	if slack.ValidCategory(cmd.Text) {
		initialCategory = cmd.Text
	}

	view := slack.NewFeedbackModal(slack.PrivateMetadata{
		ChannelID:   cmd.ChannelID,
		UserID:      cmd.UserID,
		TeamID:      cmd.TeamID,
		CommandText: cmd.Text,
	}, initialCategory)

	ctx, cancel := context.WithTimeout(c.Request.Context(), modalOpenBudget)
	defer cancel()
	if err = h.slackClient.OpenModal(ctx, cmd.TriggerID, view); err != nil {
		log.WithFields(log.Fields{
			"platform": "slack",
			"user":     logging.MaskID(cmd.UserID),
		}).Errorf("open feedback modal: %v", err)
		// Business failures still answer 200 so the user sees a message
		// instead of Slack's generic error banner.
		c.JSON(http.StatusOK, gin.H{"response_type": "ephemeral", "text": "Sorry, the feedback form could not be opened. Please try again."})
		return
	}
	c.Status(http.StatusOK)
}

// SlackInteractions routes interactivity webhooks. Verification failures are
// 401, structural junk is 400, business-logic outcomes are always 200 with a
// response_action body when one applies.
func (h *Handler) SlackInteractions(c *gin.Context) {
	rawBody, ok := h.verifiedBody(c)
	if !ok {
		return
	}

	payload, err := slack.ParseInteractionPayload(rawBody)
	if err != nil {
		respondError(c, err)
		return
	}

	switch payload.Type {
	case "view_submission":
		h.handleViewSubmission(c, payload)
	case "block_actions":
		// In-modal actions need no server response; state travels with the
		// eventual submission.
		c.Status(http.StatusOK)
	case "view_closed":
		log.WithFields(log.Fields{
			"platform": "slack",
			"user":     logging.MaskID(payload.User.ID),
		}).Debug("feedback modal dismissed")
		c.Status(http.StatusOK)
	default:
		log.WithField("platform", "slack").Debugf("ignoring interaction type %s", payload.Type)
		c.Status(http.StatusOK)
	}
}

func (h *Handler) handleViewSubmission(c *gin.Context, payload *slack.InteractionPayload) {
	resp, submission, err := slack.HandleSubmission(payload, time.Now())
	if err != nil {
		respondError(c, err)
		return
	}

	// The response must go out before any slow work; side effects run
	// detached with their own deadline.
	if submission != nil {
		go h.feedbackSideEffects(submission)
	}

	if resp == nil {
		c.Status(http.StatusOK)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// feedbackSideEffects fans out an accepted submission: post to the Slack
// feedback channel and mirror to the Discord feedback channel when
// configured. Failures are logged, never surfaced to the submitter.
func (h *Handler) feedbackSideEffects(submission *slack.FeedbackSubmission) {
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectBudget)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	if channelID := h.cfg.Slack.FeedbackChannelID; channelID != "" {
		g.Go(func() error {
			return h.notifier.SendSlack(ctx, channelID,
				slack.NotificationFallback(submission), slack.NotificationBlocks(submission))
		})
	}
	if channelID := h.cfg.Discord.FeedbackChannelID; channelID != "" {
		g.Go(func() error {
			_, err := h.notifier.SendDiscord(ctx, channelID, notify.Notification{
				Embed: notify.FeedbackEmbed(submission),
			})
			return err
		})
	}

	if err := g.Wait(); err != nil {
		log.WithFields(log.Fields{
			"platform": "slack",
			"event":    "feedback_fanout",
		}).Errorf("feedback %s delivery: %v", submission.ID, err)
	}
}

// verifiedBody reads the raw body and checks the request signature. On
// failure the response is already written.
func (h *Handler) verifiedBody(c *gin.Context) ([]byte, bool) {
	if h.verifier == nil || h.slackClient == nil {
		respondError(c, errs.New(errs.KindConfiguration, "slack_not_configured", "Slack integration is not configured"))
		return nil, false
	}
	rawBody, err := c.GetRawData()
	if err != nil {
		respondError(c, errs.Wrap(errs.KindValidation, "unreadable_body", "request body could not be read", err))
		return nil, false
	}
	if err = h.verifier.VerifyRequest(c.Request, rawBody); err != nil {
		respondError(c, err)
		return nil, false
	}
	return rawBody, true
}
