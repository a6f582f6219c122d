package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var (
	apiAddr  string
	apiToken string
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List or manage sessions on a running wtdbg serve instance",
	}
	cmd.PersistentFlags().StringVar(&apiAddr, "addr", "http://127.0.0.1:7029", "control API base address")
	cmd.PersistentFlags().StringVar(&apiToken, "token", "", "control API bearer token")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List active session ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := apiGet("/v1/sessions")
			if err != nil {
				return err
			}
			fmt.Println(string(body))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "disconnect <id>",
		Short: "Disconnect one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return apiPostEmpty("/v1/sessions/" + args[0] + "/disconnect")
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "disconnect-all",
		Short: "Disconnect every session",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := http.NewRequest(http.MethodDelete, apiAddr+"/v1/sessions", nil)
			if err != nil {
				return err
			}
			return doRequest(req)
		},
	})

	return cmd
}

func apiClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

func authorize(req *http.Request) {
	if apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+apiToken)
	}
}

func apiGet(path string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, apiAddr+path, nil)
	if err != nil {
		return nil, err
	}
	authorize(req)
	resp, err := apiClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func apiPostJSON(path string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, apiAddr+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	authorize(req)
	resp, err := apiClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func apiPostEmpty(path string) error {
	req, err := http.NewRequest(http.MethodPost, apiAddr+path, nil)
	if err != nil {
		return err
	}
	authorize(req)
	return doRequest(req)
}

func doRequest(req *http.Request) error {
	resp, err := apiClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("control API: %s: %s", resp.Status, string(data))
	}
	return nil
}
