package commands

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

var (
	logsFollow bool
	logsTail   int
)

// logLine mirrors the JSON shape slog.JSONHandler writes to relayd.log.
type logLine struct {
	Time  time.Time `json:"time"`
	Level string    `json:"level"`
	Msg   string    `json:"msg"`
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Read relayd's log file",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := resolveDataDir()
		if err != nil {
			return err
		}
		path := filepath.Join(dir, "relayd.log")

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("relayctl: open log file: %w", err)
		}
		defer f.Close()

		lines, err := tailLines(f, logsTail)
		if err != nil {
			return err
		}
		for _, l := range lines {
			printLogLine(l)
		}

		if !logsFollow {
			return nil
		}
		return followFile(f)
	},
}

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "keep reading as new lines are appended")
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "number of recent lines to print before following")
}

// tailLines reads up to the last n lines of f, leaving the cursor at EOF.
func tailLines(f *os.File, n int) ([]string, error) {
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var ring []string
	for scanner.Scan() {
		ring = append(ring, scanner.Text())
		if n > 0 && len(ring) > n {
			ring = ring[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("relayctl: read log file: %w", err)
	}
	return ring, nil
}

// followFile polls f for new lines appended after the current cursor,
// printing each as it arrives. There is no daemon IPC to push updates,
// so this is a plain poll loop over the file relayd keeps appending to.
func followFile(f *os.File) error {
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				return fmt.Errorf("relayctl: read log file: %w", err)
			}
			time.Sleep(500 * time.Millisecond)
			continue
		}
		printLogLine(line[:len(line)-1])
	}
}

func printLogLine(raw string) {
	var l logLine
	if err := json.Unmarshal([]byte(raw), &l); err != nil {
		fmt.Println(raw)
		return
	}
	fmt.Printf("%s\t%s\t%s\n", l.Time.Format(time.RFC3339), l.Level, l.Msg)
}
