package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/driverline/screener/internal/logger"
)

var errConversationDone = errors.New("conversation done")

type chatFrame struct {
	Type           string `json:"type"`
	ApplicationID  string `json:"application_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Content        string `json:"content,omitempty"`
	Status         string `json:"status,omitempty"`
	Decision       string `json:"decision,omitempty"`
	Done           bool   `json:"done,omitempty"`
	Error          string `json:"error,omitempty"`
}

var chatCmd = &cobra.Command{
	Use:   "chat <application-id>",
	Short: "Connect to a running server and screen interactively",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		chat(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().StringP("server", "s", "ws://localhost:8080/ws", "server websocket URL")
	viper.BindPFlag("server", chatCmd.Flags().Lookup("server"))
}

func chat(_ *cobra.Command, applicationID string) {
	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	server := viper.GetString("server")
	conn, _, err := websocket.DefaultDialer.Dial(server, nil)
	if err != nil {
		logger.Fatal("connecting to server", zap.String("server", server), zap.Error(err))
	}
	defer conn.Close()

	if err := writeFrame(conn, chatFrame{Type: "start", ApplicationID: applicationID}); err != nil {
		logger.Fatal("starting conversation", zap.Error(err))
	}

	conversationID, err := readReply(conn)
	if err != nil {
		logger.Fatal("reading greeting", zap.Error(err))
	}

	input := promptui.Prompt{Label: "You"}
	for {
		content, err := input.Run()
		if err != nil {
			logger.Info("exiting", zap.Error(err))
			return
		}
		if strings.TrimSpace(content) == "" {
			continue
		}

		if err := writeFrame(conn, chatFrame{Type: "message", ConversationID: conversationID, Content: content}); err != nil {
			logger.Fatal("sending message", zap.Error(err))
		}

		if _, err := readReply(conn); err != nil {
			if errors.Is(err, errConversationDone) {
				return
			}
			logger.Fatal("reading reply", zap.Error(err))
		}
	}
}

func writeFrame(conn *websocket.Conn, frame chatFrame) error {
	raw, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, raw)
}

// readReply prints streamed chunks until the completion frame and
// returns the conversation id it carried. errConversationDone signals a
// terminal conversation.
func readReply(conn *websocket.Conn) (string, error) {
	for {
		var frame chatFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return "", err
		}

		switch frame.Type {
		case "message_chunk":
			fmt.Print(frame.Content)
		case "message_complete":
			fmt.Println()
			if frame.Done {
				fmt.Printf("\n[conversation ended: %s]\n", frame.Decision)
				return frame.ConversationID, errConversationDone
			}
			return frame.ConversationID, nil
		case "error":
			return "", fmt.Errorf("server error: %s", frame.Error)
		}
	}
}
