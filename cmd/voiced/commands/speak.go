package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var (
	speakLanguage string
	speakOutput   string
)

var speakCmd = &cobra.Command{
	Use:   "speak <user> <text>",
	Short: "Synthesize speech in an enrolled user's voice",
	Long: `Speak streams synthesized audio over the server's websocket and writes
the received samples to a file as raw little-endian float32. Sentences
arrive as separate frames; the file concatenates them in order.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return speak(args[0], args[1])
	},
}

func init() {
	speakCmd.Flags().StringVarP(&speakLanguage, "language", "l", "", "language code (server default when omitted)")
	speakCmd.Flags().StringVarP(&speakOutput, "output", "o", "out.f32", "output file for raw float32 samples")
	rootCmd.AddCommand(speakCmd)
}

func speak(user, text string) error {
	wsURL := strings.Replace(serverURL, "http", "ws", 1) + "/ws/tts/" + user
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.Close()

	req := map[string]string{"text": text}
	if speakLanguage != "" {
		req["language"] = speakLanguage
	}
	if err := conn.WriteJSON(req); err != nil {
		return err
	}

	out, err := os.Create(speakOutput)
	if err != nil {
		return err
	}
	defer out.Close()

	frames, written := 0, 0
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("stream: %w", err)
		}
		if kind == websocket.BinaryMessage {
			n, err := out.Write(data)
			if err != nil {
				return err
			}
			frames++
			written += n
			continue
		}

		var status struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		}
		if err := json.Unmarshal(data, &status); err != nil {
			return fmt.Errorf("bad status message %q: %w", data, err)
		}
		if status.Error != "" {
			return fmt.Errorf("server: %s", status.Error)
		}
		if status.Status == "complete" {
			fmt.Printf("wrote %s (%d sentences, %d samples)\n",
				speakOutput, frames, written/4)
			return nil
		}
	}
}
