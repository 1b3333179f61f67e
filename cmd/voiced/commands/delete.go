package commands

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <user>",
	Short: "Delete an enrolled voice",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user := args[0]
		req, err := http.NewRequest(http.MethodDelete, serverURL+"/enroll/"+user, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusOK:
			fmt.Printf("deleted %s\n", user)
			return nil
		case http.StatusNotFound:
			return fmt.Errorf("%s is not enrolled", user)
		default:
			return serverError(resp)
		}
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
