package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var enrollFromURL string

var enrollCmd = &cobra.Command{
	Use:   "enroll <user> [reference.wav]",
	Short: "Enroll a user's voice from a reference recording",
	Long: `Enroll uploads a reference recording and stores the extracted voice
signature under the user ID. Re-enrolling replaces the signature.

The reference is either a local WAV file or, with --url, fetched by the
server itself.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		user := args[0]
		switch {
		case enrollFromURL != "":
			if len(args) > 1 {
				return fmt.Errorf("either a file or --url, not both")
			}
			return enrollByURL(user, enrollFromURL)
		case len(args) == 2:
			return enrollFile(user, args[1])
		default:
			return fmt.Errorf("a reference file or --url is required")
		}
	},
}

func init() {
	enrollCmd.Flags().StringVar(&enrollFromURL, "url", "", "let the server fetch the reference from this URL")
	rootCmd.AddCommand(enrollCmd)
}

func enrollFile(user, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("audio", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	resp, err := http.Post(serverURL+"/enroll/"+user, mw.FormDataContentType(), &body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printEnrollResult(user, resp)
}

func enrollByURL(user, url string) error {
	payload, err := json.Marshal(map[string]string{"url": url})
	if err != nil {
		return err
	}
	resp, err := http.Post(serverURL+"/enroll-url/"+user, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printEnrollResult(user, resp)
}

func printEnrollResult(user string, resp *http.Response) error {
	if resp.StatusCode != http.StatusOK {
		return serverError(resp)
	}
	var res struct {
		Enhanced bool    `json:"enhanced"`
		Duration float64 `json:"duration_seconds"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return err
	}
	fmt.Printf("enrolled %s (%.1fs reference, enhanced=%v)\n", user, res.Duration, res.Enhanced)
	return nil
}

// serverError turns a non-200 JSON error body into an error value.
func serverError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		return fmt.Errorf("server: %s (%s)", body.Error, resp.Status)
	}
	return fmt.Errorf("server returned %s", resp.Status)
}
