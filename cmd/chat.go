package cmd

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/snowgoose/snowgoose/internal/chat"
	"github.com/snowgoose/snowgoose/internal/config"
	"github.com/snowgoose/snowgoose/internal/dependency"
	"github.com/snowgoose/snowgoose/internal/identity"
	"github.com/snowgoose/snowgoose/internal/schema"
	"github.com/snowgoose/snowgoose/internal/session"
	"github.com/snowgoose/snowgoose/internal/shared/cmdutils"
	"github.com/snowgoose/snowgoose/internal/stream"
)

var (
	chatMessage      string
	chatModelID      int64
	chatUserID       string
	chatStream       bool
	chatThinking     int
	chatToolID       int64
	chatPersona      int64
	chatFormat       int64
	chatImage        string
	chatVision       string
	chatShowThinking bool
	chatMarkdown     bool
	chatSession      string
	chatNew          bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with a model from the catalog",
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatMessage, "message", "m", "", "Send a single message and exit")
	chatCmd.Flags().Int64Var(&chatModelID, "model", 0, "Model id (default from config)")
	chatCmd.Flags().StringVarP(&chatUserID, "user", "u", "", "User id usage is charged to (default from config)")
	chatCmd.Flags().BoolVarP(&chatStream, "stream", "s", false, "Stream the answer as it is generated")
	chatCmd.Flags().IntVar(&chatThinking, "thinking", 0, "Enable thinking with this token budget")
	chatCmd.Flags().Int64Var(&chatToolID, "tool", 0, "MCP tool id to offer the model")
	chatCmd.Flags().Int64Var(&chatPersona, "persona", 0, "Persona id")
	chatCmd.Flags().Int64Var(&chatFormat, "format", 0, "Output format id")
	chatCmd.Flags().StringVar(&chatImage, "image", "", "Attach a local image to the first message")
	chatCmd.Flags().StringVar(&chatVision, "vision-url", "", "Attach an image URL to the first message")
	chatCmd.Flags().BoolVar(&chatShowThinking, "show-thinking", false, "Print thinking blocks")
	chatCmd.Flags().BoolVar(&chatMarkdown, "markdown", true, "Render answers as Markdown on a terminal")
	chatCmd.Flags().StringVar(&chatSession, "session", "", "Resume and persist the named conversation")
	chatCmd.Flags().BoolVar(&chatNew, "new", false, "Start the named session from an empty history")

	chatCmd.AddCommand(sessionsCmd)
}

var exitCommands = map[string]bool{
	"exit":  true,
	"quit":  true,
	"/exit": true,
	"/quit": true,
	":q":    true,
}

// conversation drives one CLI conversation. Turns are kept in conv and
// written through sessions when the conversation is named.
type conversation struct {
	orch     *chat.Orchestrator
	base     schema.Chat
	conv     *session.Session
	sessions *session.Manager
}

func sessionManager() (*session.Manager, error) {
	return session.NewManager(filepath.Join(config.DataDir(), "sessions"))
}

func runChat(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	container, err := dependency.New(cfg)
	if err != nil {
		return err
	}
	defer container.Close()

	s := &conversation{orch: container.Orchestrator()}
	if chatSession != "" {
		if s.sessions, err = sessionManager(); err != nil {
			return err
		}
		s.conv = s.sessions.GetOrCreate(chatSession)
		if chatNew {
			s.conv.Clear()
		}
		if chatModelID == 0 && s.conv.ModelID != 0 {
			chatModelID = s.conv.ModelID
		}
	} else {
		s.conv = &session.Session{Key: "cli"}
	}

	base, err := baseChat(cfg)
	if err != nil {
		return err
	}
	s.base = base
	s.conv.ModelID = base.ModelID

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	userID := chatUserID
	if userID == "" {
		userID = cfg.Defaults.UserID
	}
	if userID != "" {
		ctx = identity.WithUserID(ctx, userID)
	}

	if chatMessage != "" {
		return s.turn(ctx, chatMessage)
	}
	return s.interactive(ctx)
}

func baseChat(cfg *config.Config) (schema.Chat, error) {
	c := schema.Chat{
		ModelID:        chatModelID,
		PersonaID:      chatPersona,
		OutputFormatID: chatFormat,
		MaxTokens:      cfg.Defaults.MaxTokens,
		BudgetTokens:   cfg.Defaults.BudgetTokens,
		MCPToolID:      chatToolID,
		VisionURL:      chatVision,
	}
	if c.ModelID == 0 {
		c.ModelID = cfg.Defaults.ModelID
	}
	if c.ModelID == 0 {
		return c, errors.New("no model selected: pass --model or set defaults.modelId")
	}
	if chatThinking > 0 {
		c.ThinkingMode = true
		c.BudgetTokens = chatThinking
	}
	if chatImage != "" {
		data, err := os.ReadFile(chatImage)
		if err != nil {
			return c, fmt.Errorf("read image: %w", err)
		}
		c.ImageData = fmt.Sprintf("data:%s;base64,%s",
			http.DetectContentType(data), base64.StdEncoding.EncodeToString(data))
	}
	return c, nil
}

// turn sends one user message and appends the answer to the history.
func (s *conversation) turn(ctx context.Context, text string) error {
	user := schema.NewUserMessage(text)
	c := s.base
	c.ResponseHistory = append(s.conv.Snapshot(), user)
	c.PreviousResponseID = s.conv.LastResponseID

	var resp schema.ChatResponse
	if chatStream {
		acc := &stream.Accumulator{}
		printer := cmdutils.NewChunkPrinter(os.Stdout, chatShowThinking)
		if err := s.orch.StreamChat(ctx, &c, nil, stream.Tee(printer.Print, acc.Sink())); err != nil {
			return err
		}
		resp = acc.Response()
	} else {
		fmt.Fprintf(os.Stderr, "  ↳ thinking...\n")
		res, err := s.orch.SendChat(ctx, &c, nil)
		if err != nil {
			if errors.Is(err, schema.ErrInvalidChat) || errors.Is(err, schema.ErrNotFound) {
				return err
			}
			res.Response = chat.ErrorResponse(err)
		}
		if res.IsImage() {
			res.Response = schema.ChatResponse{
				Role:    schema.RoleAssistant,
				Content: []schema.ContentBlock{schema.ImageBlock(res.ImageURL, "")},
			}
		}
		resp = res.Response
		cmdutils.PrintResponse(os.Stdout, resp, cmdutils.Style{
			ShowThinking: chatShowThinking,
			Markdown:     chatMarkdown,
		})
	}

	// Attachments belong to the first turn only.
	s.base.ImageData = ""
	s.base.VisionURL = ""
	s.conv.AddTurn(user, resp)
	if s.sessions != nil {
		if err := s.sessions.Save(s.conv); err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
	}
	return nil
}

// interactive reads lines with history and line editing and answers each
// until exit, EOF or Ctrl+C.
func (s *conversation) interactive(ctx context.Context) error {
	fmt.Printf("%s Interactive mode (type 'exit' or Ctrl+C to quit)\n\n", cmdutils.Logo)

	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	historyFile := filepath.Join(config.DataDir(), "chat_history")
	if f, err := os.Open(historyFile); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.OpenFile(historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
			_, _ = line.WriteHistory(f)
			f.Close()
		}
		line.Close()
	}()

	for {
		input, err := line.Prompt("You: ")
		if err != nil {
			// Ctrl+C aborts the prompt; Ctrl+D is io.EOF.
			fmt.Println("\nGoodbye!")
			return nil
		}

		text := strings.TrimSpace(input)
		if text == "" {
			continue
		}
		line.AppendHistory(text)
		if exitCommands[strings.ToLower(text)] {
			fmt.Println("Goodbye!")
			return nil
		}

		if err := s.turn(ctx, text); err != nil {
			if ctx.Err() != nil {
				fmt.Println("\nGoodbye!")
				return nil
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List saved conversations",
	RunE: func(_ *cobra.Command, _ []string) error {
		m, err := sessionManager()
		if err != nil {
			return err
		}
		list := m.List()
		if len(list) == 0 {
			fmt.Println("No saved conversations.")
			return nil
		}
		rows := make([][]string, 0, len(list))
		for _, info := range list {
			rows = append(rows, []string{info.Key, info.UpdatedAt.Local().Format("2006-01-02 15:04")})
		}
		cmdutils.Table(os.Stdout, []string{"Session", "Updated"}, rows)
		return nil
	},
}
