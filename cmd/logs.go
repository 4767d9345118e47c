package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"dockmaster/internal/schedule"
)

var (
	logsLines  int
	logsFollow bool
)

var scheduleLogsCmd = &cobra.Command{
	Use:   "logs [type]",
	Short: "Show scheduler logs",
	Long: `Show the scheduler daemon's own log, or the execution log of one job
type when 'backup' or 'cleanup' is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openProject()
		if err != nil {
			return err
		}

		path := p.DaemonLogFile()
		if len(args) == 1 {
			typ, err := schedule.ParseJobType(args[0])
			if err != nil {
				return err
			}
			path = schedule.NewTaskLogs(p.TasksLogDir()).Path(typ)
		}

		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("no log yet at %s", path)
		}

		lines, err := lastLines(path, logsLines)
		if err != nil {
			return err
		}
		for _, line := range lines {
			fmt.Println(line)
		}

		if !logsFollow {
			return nil
		}
		return followLines(path, os.Stdout)
	},
}

// lastLines returns up to n trailing lines of the file, oldest first. A ring
// of n entries bounds memory however large the log has grown.
func lastLines(path string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", path, err)
	}
	defer f.Close()

	ring := make([]string, n)
	count := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		ring[count%n] = sc.Text()
		count++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	if count < n {
		return ring[:count], nil
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, ring[(count+i)%n])
	}
	return out, nil
}

// followLines streams lines appended to the file into w until interrupted.
func followLines(path string, w io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("cannot open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return err
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if len(line) > 0 {
			fmt.Fprint(w, line)
		}
		if err == nil {
			continue
		}
		select {
		case <-interrupt:
			fmt.Fprintln(w)
			return nil
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func init() {
	scheduleLogsCmd.Flags().IntVarP(&logsLines, "lines", "n", 100, "number of lines to show")
	scheduleLogsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "keep printing appended lines")
	scheduleCmd.AddCommand(scheduleLogsCmd)
}
