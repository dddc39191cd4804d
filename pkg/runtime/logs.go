package runtime

import (
	"bufio"
	"os"

	"github.com/polisproject/polisd/pkg/types"
)

// tailLines reads path and returns at most the last n lines (all of
// them if n <= 0). Missing file reads as "not yet started" rather
// than an IO failure, since logs are requested long before a task's
// first write.
func tailLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, types.NewIOError("runtime: read container log", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, types.NewIOError("runtime: scan container log", err)
	}

	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}
