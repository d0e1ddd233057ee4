package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"scanguard/internal/common"
	"scanguard/internal/pipeline"
	"scanguard/internal/policy"
	"scanguard/internal/server"
)

var (
	analyzeChannel string
	analyzeSender  string
	analyzePolicy  string
	analyzeFail    bool
)

// errBlocked makes the process exit non-zero under --fail-on-block.
var errBlocked = errors.New("content blocked by policy")

var analyzeCmd = &cobra.Command{
	Use:   "analyze [content | file]",
	Short: "Analyze one item and print the report as JSON",
	Long: `Analyze a single URL, email body, SMS text or QR image.

Text content is taken from the arguments, or from stdin when none are given
or the only argument is "-". For the qr channel the argument is an image
file path.

Examples:
  scanguard analyze http://192.168.1.5/verify-account
  scanguard analyze --channel email --sender alerts@bank.example < mail.txt
  scanguard analyze --channel qr poster.png --fail-on-block`,
	RunE: runAnalyze,
}

func init() {
	f := analyzeCmd.Flags()
	f.StringVar(&analyzeChannel, "channel", "url", "url, email, sms or qr")
	f.StringVar(&analyzeSender, "sender", "", "sender address or number")
	f.StringVar(&analyzePolicy, "policy", policy.DefaultPolicyName, "policy to decide with")
	f.BoolVar(&analyzeFail, "fail-on-block", false, "exit non-zero when the decision is block")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ch, err := common.ParseChannel(analyzeChannel)
	if err != nil {
		return err
	}
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	// One-shot runs do not write audit records.
	cfg.AuditDB = ""

	app, err := server.NewApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	var rep *pipeline.Report
	if ch == common.ChannelQR {
		if len(args) != 1 {
			return fmt.Errorf("qr analysis takes exactly one image path")
		}
		data, rerr := os.ReadFile(args[0])
		if rerr != nil {
			return rerr
		}
		rep, err = app.Service.AnalyzeImage(cmd.Context(), data, analyzePolicy)
	} else {
		content, rerr := readContent(cmd.InOrStdin(), args)
		if rerr != nil {
			return rerr
		}
		rep, err = app.Service.Analyze(cmd.Context(), pipeline.Request{
			Channel: ch,
			Content: content,
			Sender:  analyzeSender,
			Policy:  analyzePolicy,
		})
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return err
	}
	if analyzeFail && rep.Decision.Action == policy.ActionBlock {
		return errBlocked
	}
	return nil
}

func readContent(stdin io.Reader, args []string) (string, error) {
	if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
		data, err := io.ReadAll(io.LimitReader(stdin, 1<<20))
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	return strings.Join(args, " "), nil
}
