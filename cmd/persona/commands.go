package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"

	"github.com/kalambet/persona/internal/auth"
	"github.com/kalambet/persona/internal/config"
)

// --- subject ---

var subjectCmd = &cobra.Command{
	Use:   "subject",
	Short: "Manage analysis subjects",
}

var subjectCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Register a subject",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/subjects", map[string]string{"name": args[0]})
		if err != nil {
			return err
		}
		var result struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Created subject %s (%s)", result.Name, result.ID)
		return nil
	},
}

var subjectShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a subject with its media and reports",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return showJSON(cmd.Context(), "/subjects/"+url.PathEscape(args[0]))
	},
}

func init() {
	subjectCmd.AddCommand(subjectCreateCmd)
	subjectCmd.AddCommand(subjectShowCmd)
}

// --- media ---

var mediaCmd = &cobra.Command{
	Use:   "media",
	Short: "Create, inspect and analyse media records",
}

var mediaCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a media record and optionally upload its file",
	Long: `Create a pending media record and print its upload URL.

Examples:
  persona media create --user 7f3c... --type image --file ./portrait.jpg
  persona media create --user 7f3c... --type audio --content-type audio/mpeg`,
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		mediaType, _ := cmd.Flags().GetString("type")
		contentType, _ := cmd.Flags().GetString("content-type")
		file, _ := cmd.Flags().GetString("file")

		if userID == "" || mediaType == "" {
			return fmt.Errorf("--user and --type are required")
		}

		var data []byte
		if file != "" {
			var err error
			if data, err = os.ReadFile(file); err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			if contentType == "" {
				contentType = mimetype.Detect(data).String()
			}
		}
		if contentType == "" {
			return fmt.Errorf("--content-type is required without --file")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/media", map[string]string{
			"userId":      userID,
			"type":        mediaType,
			"contentType": contentType,
		})
		if err != nil {
			return err
		}
		var result struct {
			MediaID     string `json:"mediaId"`
			UploadURL   string `json:"uploadUrl"`
			StoragePath string `json:"storagePath"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Created media %s", result.MediaID)
		printStatus("Storage path", "%s", result.StoragePath)

		if data == nil {
			printStatus("Upload URL", "%s", result.UploadURL)
			return nil
		}
		if err := client.upload(cmd.Context(), result.UploadURL, contentType, data); err != nil {
			return err
		}
		printSuccess("Uploaded %d bytes", len(data))
		return nil
	},
}

var mediaShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a media record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return showJSON(cmd.Context(), "/media/"+url.PathEscape(args[0]))
	},
}

var mediaTriggerCmd = &cobra.Command{
	Use:   "trigger <id>",
	Short: "Start analysis of a pending media record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetBool("wait")
		interval, _ := cmd.Flags().GetDuration("interval")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/media/"+url.PathEscape(args[0])+"/analysis", nil)
		if err != nil {
			return err
		}
		var accepted map[string]string
		if err := decodeJSON(resp, &accepted); err != nil {
			return err
		}
		printSuccess("Analysis of %s is %s", accepted["mediaId"], accepted["status"])
		if !wait {
			return nil
		}
		return waitForOutcome(cmd.Context(), client, args[0], interval)
	},
}

var mediaResetCmd = &cobra.Command{
	Use:   "reset <id>",
	Short: "Return a failed media record to pending",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/media/"+url.PathEscape(args[0])+"/reset", nil)
		if err != nil {
			return err
		}
		var m struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		}
		if err := decodeJSON(resp, &m); err != nil {
			return err
		}
		printSuccess("Media %s is %s", m.ID, m.Status)
		return nil
	},
}

// waitForOutcome polls a media record until it leaves processing.
func waitForOutcome(ctx context.Context, client *apiClient, id string, interval time.Duration) error {
	for {
		resp, err := client.get(ctx, "/media/"+url.PathEscape(id))
		if err != nil {
			return err
		}
		var m struct {
			Status string  `json:"status"`
			Error  *string `json:"error"`
		}
		if err := decodeJSON(resp, &m); err != nil {
			return err
		}
		switch m.Status {
		case "succeeded":
			printStatus("Status", "%s", colorize(statusColor(m.Status), m.Status))
			return nil
		case "failed":
			msg := ""
			if m.Error != nil {
				msg = *m.Error
			}
			printStatus("Status", "%s", colorize(statusColor(m.Status), m.Status))
			return fmt.Errorf("analysis failed: %s", msg)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func init() {
	mediaCreateCmd.Flags().String("user", "", "subject id that owns the media")
	mediaCreateCmd.Flags().String("type", "", "media type: image or audio")
	mediaCreateCmd.Flags().String("content-type", "", "MIME type (detected from --file when omitted)")
	mediaCreateCmd.Flags().String("file", "", "file to upload after creating the record")
	mediaTriggerCmd.Flags().Bool("wait", false, "wait until the analysis succeeds or fails")
	mediaTriggerCmd.Flags().Duration("interval", 2*time.Second, "poll interval with --wait")

	mediaCmd.AddCommand(mediaCreateCmd)
	mediaCmd.AddCommand(mediaShowCmd)
	mediaCmd.AddCommand(mediaTriggerCmd)
	mediaCmd.AddCommand(mediaResetCmd)
}

// --- template ---

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Manage report prompt templates",
}

var templatePutCmd = &cobra.Command{
	Use:   "put <template-type> <revision-id>",
	Short: "Store a template revision from a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		label, _ := cmd.Flags().GetString("label")
		if file == "" {
			return fmt.Errorf("--file is required")
		}
		content, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path := "/templates/" + url.PathEscape(args[0]) + "/revisions/" + url.PathEscape(args[1])
		resp, err := client.put(cmd.Context(), path, map[string]string{"label": label, "content": string(content)})
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Stored %s revision %s (%s)", result["templateType"], result["revisionId"], result["label"])
		return nil
	},
}

func init() {
	templatePutCmd.Flags().String("file", "", "file with the template text")
	templatePutCmd.Flags().String("label", "", "human-readable revision label")
	templateCmd.AddCommand(templatePutCmd)
}

// --- report ---

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate and read reports",
}

var reportCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Generate a report from analysed media",
	RunE: func(cmd *cobra.Command, args []string) error {
		reportType, _ := cmd.Flags().GetString("type")
		primary, _ := cmd.Flags().GetString("primary")
		secondary, _ := cmd.Flags().GetString("secondary")
		templateType, _ := cmd.Flags().GetString("template")
		revision, _ := cmd.Flags().GetString("revision")
		selfObserved, _ := cmd.Flags().GetString("self-observed")

		if reportType == "" || primary == "" || revision == "" {
			return fmt.Errorf("--type, --primary and --revision are required")
		}
		if templateType == "" {
			templateType = reportType
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/reports", map[string]string{
			"reportType":              reportType,
			"primaryUserId":           primary,
			"secondaryUserId":         secondary,
			"templateType":            templateType,
			"templateRevisionId":      revision,
			"selfObservedDifferences": selfObserved,
		})
		if err != nil {
			return err
		}
		var r struct {
			ID      string `json:"id"`
			Content string `json:"content"`
		}
		if err := decodeJSON(resp, &r); err != nil {
			return err
		}
		printSuccess("Generated report %s", r.ID)
		fmt.Println(r.Content)
		return nil
	},
}

var reportShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return showJSON(cmd.Context(), "/reports/"+url.PathEscape(args[0]))
	},
}

var reportListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		q := url.Values{}
		q.Set("limit", fmt.Sprint(limit))
		if userID != "" {
			q.Set("userId", userID)
		}
		resp, err := client.get(cmd.Context(), "/reports?"+q.Encode())
		if err != nil {
			return err
		}
		var reports []struct {
			ID            string `json:"id"`
			ReportType    string `json:"reportType"`
			PrimaryUserID string `json:"primaryUserId"`
			CreatedAt     string `json:"createdAt"`
		}
		if err := decodeJSON(resp, &reports); err != nil {
			return err
		}
		if len(reports) == 0 {
			fmt.Println("No reports found.")
			return nil
		}
		for _, r := range reports {
			fmt.Printf("%s  %s  %-28s %s\n", colorize(colorCyan, shortID(r.ID)), r.CreatedAt, r.ReportType, r.PrimaryUserID)
		}
		return nil
	},
}

func init() {
	reportCreateCmd.Flags().String("type", "", "report type, e.g. first_impression")
	reportCreateCmd.Flags().String("primary", "", "primary subject id")
	reportCreateCmd.Flags().String("secondary", "", "secondary subject id for compatibility reports")
	reportCreateCmd.Flags().String("template", "", "template type (defaults to the report type)")
	reportCreateCmd.Flags().String("revision", "", "template revision id")
	reportCreateCmd.Flags().String("self-observed", "", "self-observed differences to include")
	reportListCmd.Flags().String("user", "", "only reports for this primary subject")
	reportListCmd.Flags().Int("limit", 20, "maximum number of reports to list")

	reportCmd.AddCommand(reportCreateCmd)
	reportCmd.AddCommand(reportShowCmd)
	reportCmd.AddCommand(reportListCmd)
}

// --- token ---

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for the local API",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		email, _ := cmd.Flags().GetString("email")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		tok, err := auth.NewSigner(cfg.Auth.JWTSecret).IssueIdentity(auth.Identity{UserID: userID, Email: email}, ttl)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("user", "admin", "user id the token identifies")
	tokenCmd.Flags().String("email", "", "email recorded on the token")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func showJSON(ctx context.Context, path string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	resp, err := client.get(ctx, path)
	if err != nil {
		return err
	}
	var v any
	if err := decodeJSON(resp, &v); err != nil {
		return err
	}
	return printJSON(v)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
