package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

var version = "0.1.0-dev"

const usage = `expected 'speak', 'generate', 'messages', 'voices', 'status' or 'version'`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "speak":
		err = runSpeak(os.Args[2:])
	case "generate":
		err = runGenerate(os.Args[2:])
	case "messages":
		err = runMessages(os.Args[2:])
	case "voices":
		err = runVoices(os.Args[2:])
	case "status":
		err = runStatus(os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runSpeak(args []string) error {
	fs := flag.NewFlagSet("speak", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Runtime HTTP address")
	session := fs.String("session", "cli", "Session identifier")
	voice := fs.String("voice", "", "Voice name")
	language := fs.String("language", "", "BCP-47 language tag")
	pitch := fs.Float64("pitch", 0, "Pitch multiplier (0 uses the configured default)")
	rate := fs.Float64("rate", 0, "Rate multiplier (0 uses the configured default)")
	fs.Parse(args)

	text := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("speak requires text to synthesize")
	}

	body := map[string]any{
		"session_id": *session,
		"text":       text,
		"voice":      *voice,
		"language":   *language,
		"pitch":      *pitch,
		"rate":       *rate,
	}
	return postAndPrint(*addr+"/v1/speak", body)
}

func runGenerate(args []string) error {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Runtime HTTP address")
	session := fs.String("session", "cli", "Session identifier")
	apiKey := fs.String("api-key", "", "API key sent as X-Api-Key")
	speak := fs.Bool("speak", false, "Speak the reply after generating it")
	fs.Parse(args)

	prompt := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(prompt) == "" {
		return fmt.Errorf("generate requires a prompt")
	}

	payload, err := json.Marshal(map[string]any{
		"session_id": *session,
		"prompt":     prompt,
		"speak":      *speak,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, *addr+"/v1/generate", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if *apiKey != "" {
		req.Header.Set("X-Api-Key", *apiKey)
	}
	return doAndPrint(req)
}

func runMessages(args []string) error {
	fs := flag.NewFlagSet("messages", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Runtime HTTP address")
	session := fs.String("session", "cli", "Session identifier")
	fs.Parse(args)

	return getAndPrint(*addr + "/v1/sessions/" + *session + "/messages")
}

func runVoices(args []string) error {
	fs := flag.NewFlagSet("voices", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Runtime HTTP address")
	fs.Parse(args)

	return getAndPrint(*addr + "/v1/voices")
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Runtime HTTP address")
	fs.Parse(args)

	return getAndPrint(*addr + "/v1/speak/status")
}

func postAndPrint(url string, body map[string]any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return doAndPrint(req)
}

func getAndPrint(url string) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return doAndPrint(req)
}

func doAndPrint(req *http.Request) error {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		fmt.Println(strings.TrimSpace(string(data)))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}
