package scanner

import (
	"bufio"
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/telhawk-systems/sshfeeder/internal/models"
)

// findCommand lists regular files directly under a directory whose status
// changed within the last N minutes, one "<epoch> <size> <name>" per line.
const findCommand = `/usr/bin/find %s -maxdepth 1 -type f -cmin -%d -printf '%%C@ %%s %%f\n'`

// ListCommand returns the remote listing command for dir and a lookback of
// minutes.
func ListCommand(dir string, minutes int) string {
	return fmt.Sprintf(findCommand, shellQuote(dir), minutes)
}

func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, unsafeShellRune) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func unsafeShellRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	case strings.ContainsRune("/._-+:@", r):
		return false
	}
	return true
}

// ParseLine parses one listing line. Filenames may contain spaces.
func ParseLine(line string) (models.DiscoveredFile, error) {
	fields := strings.SplitN(strings.TrimSpace(line), " ", 3)
	if len(fields) != 3 || fields[2] == "" {
		return models.DiscoveredFile{}, fmt.Errorf("malformed listing line %q", line)
	}

	epoch, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || math.IsNaN(epoch) || math.IsInf(epoch, 0) {
		return models.DiscoveredFile{}, fmt.Errorf("bad timestamp in listing line %q", line)
	}
	size, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return models.DiscoveredFile{}, fmt.Errorf("bad size in listing line %q", line)
	}

	sec, frac := math.Modf(epoch)
	return models.DiscoveredFile{
		CreatedAt: time.Unix(int64(sec), int64(frac*1e9)).UTC(),
		Size:      size,
		Name:      fields[2],
	}, nil
}

// ParseListing parses command output. Malformed lines are returned as errors
// alongside the files that did parse.
func ParseListing(stdout []byte) ([]models.DiscoveredFile, []error) {
	var (
		files []models.DiscoveredFile
		errs  []error
	)

	sc := bufio.NewScanner(bytes.NewReader(stdout))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		f, err := ParseLine(line)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		files = append(files, f)
	}
	if err := sc.Err(); err != nil {
		errs = append(errs, err)
	}
	return files, errs
}
