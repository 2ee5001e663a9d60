// Package bot is the Discord surface: the command handlers, the response
// buttons, and the outbound transport the dispatcher sends through.
package bot

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/pawsture/wellmon/internal/config"
	"github.com/pawsture/wellmon/internal/detect"
	"github.com/pawsture/wellmon/internal/dispatch"
	"github.com/pawsture/wellmon/internal/gamify"
	"github.com/pawsture/wellmon/internal/ingest"
	"github.com/pawsture/wellmon/internal/logging"
	"github.com/pawsture/wellmon/internal/model"
	"github.com/pawsture/wellmon/internal/render"
	"github.com/pawsture/wellmon/internal/subscribers"
)

// Bot wires the Discord session to the rest of the system. It also
// implements dispatch.Transport.
type Bot struct {
	session *discordgo.Session
	cfg     config.Config

	subs       *subscribers.Set
	detector   *detect.Detector
	ledger     *gamify.Ledger
	responses  *ingest.Handler
	modelRef   *model.Ref
	dispatcher *dispatch.Dispatcher

	health *http.Server
}

// New creates the bot. The dispatcher is attached later because it needs the
// bot as its transport.
func New(cfg config.Config, subs *subscribers.Set, detector *detect.Detector,
	ledger *gamify.Ledger, responses *ingest.Handler, modelRef *model.Ref) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	b := &Bot{
		session:   session,
		cfg:       cfg,
		subs:      subs,
		detector:  detector,
		ledger:    ledger,
		responses: responses,
		modelRef:  modelRef,
	}

	session.AddHandler(b.handleMessage)
	session.AddHandler(b.handleInteraction)
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent

	return b, nil
}

// AttachDispatcher connects the dispatcher after construction.
func (b *Bot) AttachDispatcher(d *dispatch.Dispatcher) {
	b.dispatcher = d
}

// Start opens the Discord connection and the health listener.
func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open discord connection: %w", err)
	}
	logging.Info("bot", "connected as %s", b.session.State.User.Username)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	})
	b.health = &http.Server{Addr: ":" + b.cfg.BotPort, Handler: mux}
	go func() {
		if err := b.health.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Warn("bot", "health listener: %v", err)
		}
	}()
	logging.Info("bot", "health listener on :%s", b.cfg.BotPort)
	return nil
}

// Stop closes the Discord connection and the health listener.
func (b *Bot) Stop() error {
	if b.health != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		b.health.Shutdown(shutdownCtx)
	}
	return b.session.Close()
}

// Send implements dispatch.Transport. A non-empty recID attaches the
// response buttons.
func (b *Bot) Send(subscriber int64, text string, recID string) error {
	channelID := strconv.FormatInt(subscriber, 10)
	if recID == "" {
		_, err := b.session.ChannelMessageSend(channelID, text)
		return err
	}
	_, err := b.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:    text,
		Components: responseButtons(recID),
	})
	return err
}

func responseButtons(recID string) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "I'll do it",
					Style:    discordgo.SuccessButton,
					CustomID: "accept_" + recID,
				},
				discordgo.Button{
					Label:    "Later",
					Style:    discordgo.SecondaryButton,
					CustomID: "postpone_" + recID,
				},
				discordgo.Button{
					Label:    "No thanks",
					Style:    discordgo.DangerButton,
					CustomID: "reject_" + recID,
				},
			},
		},
	}
}

func (b *Bot) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author.ID == s.State.User.ID {
		return
	}
	if b.cfg.BotChannel != "" && m.ChannelID != b.cfg.BotChannel {
		return
	}
	content := strings.TrimSpace(m.Content)
	if !strings.HasPrefix(content, "!") {
		return
	}

	fields := strings.Fields(content)
	command := fields[0]
	args := fields[1:]
	logging.Info("bot", "command %s from %s", command, m.Author.Username)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var reply string
	switch command {
	case "!start":
		reply = b.cmdStart(m.ChannelID)
	case "!status":
		reply = b.cmdStatus(ctx, true, true)
	case "!posture_status":
		reply = b.cmdStatus(ctx, true, false)
	case "!emotion_status":
		reply = b.cmdStatus(ctx, false, true)
	case "!recommendation":
		b.cmdRecommendation(ctx, m.ChannelID, args)
		return
	case "!stats":
		reply = b.cmdStats(ctx, args)
	case "!leaderboard":
		reply = b.cmdLeaderboard(ctx)
	case "!config":
		reply = b.cmdConfig()
	case "!model_status":
		reply = render.ModelStatus(b.modelRef.Load(), b.responses.MalformedIDs())
	default:
		return
	}

	if _, err := s.ChannelMessageSend(m.ChannelID, reply); err != nil {
		logging.Warn("bot", "reply to %s failed: %v", m.ChannelID, err)
	}
}

func (b *Bot) cmdStart(channelID string) string {
	id, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		logging.Warn("bot", "unparseable channel id %q", channelID)
		return "Subscription failed, try again later."
	}
	added, err := b.subs.Add(id)
	if err != nil {
		logging.Warn("bot", "subscriber persist failed: %v", err)
		return "Subscription failed, try again later."
	}
	if !added {
		return "This channel is already subscribed. " + render.Welcome()
	}
	return render.Welcome()
}

func (b *Bot) cmdStatus(ctx context.Context, posture, emotion bool) string {
	var parts []string
	now := time.Now()
	if posture {
		users, err := b.detector.Posture(ctx, now)
		if err != nil {
			parts = append(parts, "Posture status unavailable right now.")
		} else {
			parts = append(parts, render.DomainStatus("Posture", users))
		}
	}
	if emotion {
		users, err := b.detector.Emotions(ctx, now)
		if err != nil {
			parts = append(parts, "Emotion status unavailable right now.")
		} else {
			parts = append(parts, render.DomainStatus("Emotion", users))
		}
	}
	return strings.Join(parts, "\n\n")
}

func (b *Bot) cmdRecommendation(ctx context.Context, channelID string, args []string) {
	reply := func(text, recID string) {
		sub, err := strconv.ParseInt(channelID, 10, 64)
		if err != nil {
			return
		}
		if err := b.Send(sub, text, recID); err != nil {
			logging.Warn("bot", "recommendation reply failed: %v", err)
		}
	}

	if len(args) != 1 {
		reply("Usage: !recommendation <user_id>", "")
		return
	}
	userID, err := strconv.Atoi(args[0])
	if err != nil {
		reply("Usage: !recommendation <user_id>", "")
		return
	}
	sub, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return
	}

	result, err := b.dispatcher.Manual(ctx, sub, userID)
	if err != nil {
		logging.Warn("bot", "manual recommendation for user %d failed: %v", userID, err)
		reply(render.NoData(userID), "")
		return
	}
	reply(result.Text, result.RecID)
}

func (b *Bot) cmdStats(ctx context.Context, args []string) string {
	if len(args) != 1 {
		return "Usage: !stats <user_id>"
	}
	userID, err := strconv.Atoi(args[0])
	if err != nil {
		return "Usage: !stats <user_id>"
	}
	accepts, postpones, rejects, err := b.responses.Stats30d(ctx, userID, time.Now())
	if err != nil {
		logging.Warn("bot", "stats for user %d failed: %v", userID, err)
		return "Stats unavailable right now, try again later."
	}
	return render.Stats(userID, accepts, postpones, rejects)
}

func (b *Bot) cmdLeaderboard(ctx context.Context) string {
	rows, err := b.ledger.Leaderboard(ctx)
	if err != nil {
		logging.Warn("bot", "leaderboard failed: %v", err)
		return "Leaderboard unavailable right now, try again later."
	}
	return render.Leaderboard(rows)
}

func (b *Bot) cmdConfig() string {
	var cpuPercent, rssMB float64
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if cpu, err := proc.CPUPercent(); err == nil {
			cpuPercent = cpu
		}
		if mem, err := proc.MemoryInfo(); err == nil {
			rssMB = float64(mem.RSS) / (1 << 20)
		}
	}
	return render.Settings(b.cfg, cpuPercent, rssMB)
}

// handleInteraction processes a response button click: record the response,
// then edit the message to drop the buttons and append the confirmation.
func (b *Bot) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}
	customID := i.MessageComponentData().CustomID
	verb, recID, ok := splitCustomID(customID)
	if !ok {
		logging.Warn("bot", "unknown interaction %q", customID)
		return
	}

	username := ""
	if i.Member != nil && i.Member.User != nil {
		username = i.Member.User.Username
	} else if i.User != nil {
		username = i.User.Username
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	confirmation, err := b.responses.HandleResponse(ctx, recID, verb, username, time.Now())
	if err != nil {
		logging.Warn("bot", "response for %s failed: %v", recID, err)
		// Keep the buttons so the click can be retried.
		s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: "Could not record that just now — please try again.",
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		})
		return
	}

	content := i.Message.Content + "\n\n" + confirmation
	err = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Content:    content,
			Components: []discordgo.MessageComponent{},
		},
	})
	if err != nil {
		logging.Warn("bot", "interaction update failed: %v", err)
	}
}

func splitCustomID(customID string) (verb, recID string, ok bool) {
	for _, v := range []string{"accept", "postpone", "reject"} {
		if strings.HasPrefix(customID, v+"_") {
			return v, strings.TrimPrefix(customID, v+"_"), true
		}
	}
	return "", "", false
}
