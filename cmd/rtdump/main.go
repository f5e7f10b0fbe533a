// Package main provides rtdump, a reference dump tool for the flat record
// format (C1): it reads an RMD file/stream, optionally filters by frame
// type/shard, and can re-emit the matching frames as CSV or as a filtered
// binary copy.
package main

import (
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/latticefin/rtdb/internal/record"
	"github.com/latticefin/rtdb/internal/replication"
)

type uintList []uint16

func (l *uintList) String() string {
	if l == nil {
		return ""
	}
	return fmt.Sprint([]uint16(*l))
}

func (l *uintList) Set(s string) error {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return fmt.Errorf("invalid value %q: %w", s, err)
	}
	*l = append(*l, uint16(n))
	return nil
}

func (l uintList) contains(v uint16) bool {
	if len(l) == 0 {
		return true
	}
	for _, x := range l {
		if x == v {
			return true
		}
	}
	return false
}

type options struct {
	verbose  bool
	rawNsec  bool
	baseNsec int64
	types    uintList
	shards   uintList
	csvPath  string
	outPath  string
}

func main() {
	opts, path, err := parseArgs(os.Args[1:])
	if err != nil {
		usage(err)
	}

	in, err := os.Open(path)
	if err != nil {
		fatal("opening %q: %v", path, err)
	}
	defer in.Close()

	var csvWriter *csv.Writer
	var csvFile *os.File
	if opts.csvPath != "" {
		csvFile, err = os.Create(opts.csvPath)
		if err != nil {
			fatal("creating %q: %v", opts.csvPath, err)
		}
		defer csvFile.Close()
		csvWriter = csv.NewWriter(csvFile)
		defer csvWriter.Flush()
		if err := csvWriter.Write([]string{"type", "shard", "nsec", "length", "body_hex"}); err != nil {
			fatal("writing csv header: %v", err)
		}
	}

	var outFile *os.File
	var outWriter *record.Writer
	if opts.outPath != "" {
		outFile, err = os.OpenFile(opts.outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			fatal("creating %q: %v", opts.outPath, err)
		}
		defer outFile.Close()
		if err := record.WriteHeader(outFile, record.Header{VMajor: 1, VMinor: 0}); err != nil {
			fatal("writing output header: %v", err)
		}
		outWriter = record.NewWriter(outFile)
	}

	if err := dump(in, opts, csvWriter, outWriter); err != nil {
		fatal("%v", err)
	}
}

func dump(in io.Reader, opts *options, csvWriter *csv.Writer, outWriter *record.Writer) error {
	hdr, err := record.ReadHeader(in)
	if err != nil {
		return fmt.Errorf("reading header: %w", err)
	}
	fmt.Printf("version: %d.%d\n", hdr.VMajor, hdr.VMinor)

	reader := record.NewReader(in, replication.NewMessageRegistry())
	reader.SetBase(opts.baseNsec)
	if outWriter != nil {
		outWriter.SetBase(opts.baseNsec)
	}

	var count, matched int
	for {
		frame, abs, err := reader.ReadFrame()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, record.ErrTruncated) {
			fmt.Fprintf(os.Stderr, "rtdump: truncated frame after %d records, stopping\n", count)
			break
		}
		if err != nil {
			return fmt.Errorf("reading frame %d: %w", count, err)
		}
		count++

		if !opts.types.contains(frame.Type) || !opts.shards.contains(frame.Shard) {
			continue
		}
		matched++

		if opts.verbose {
			printFrame(frame, abs, opts.rawNsec)
		}
		if csvWriter != nil {
			if err := writeCSVRow(csvWriter, frame, abs); err != nil {
				return fmt.Errorf("writing csv row: %w", err)
			}
		}
		if outWriter != nil {
			if err := outWriter.WriteFrame(frame.Type, frame.Shard, abs, frame.Body); err != nil {
				return fmt.Errorf("writing filtered frame: %w", err)
			}
		}
	}

	fmt.Printf("records: %d  matched: %d\n", count, matched)
	return nil
}

func printFrame(f record.Frame, absNsec int64, rawNsec bool) {
	stamp := strconv.FormatUint(uint64(f.NsecDelta), 10)
	if !rawNsec {
		stamp = time.Unix(0, absNsec).UTC().Format(time.RFC3339Nano)
	}
	fmt.Printf("len: %6d  type: %6d  shard: %6d  stamp: %s\n", f.Length, f.Type, f.Shard, stamp)
}

func writeCSVRow(w *csv.Writer, f record.Frame, absNsec int64) error {
	return w.Write([]string{
		strconv.FormatUint(uint64(f.Type), 10),
		strconv.FormatUint(uint64(f.Shard), 10),
		strconv.FormatInt(absNsec, 10),
		strconv.FormatUint(uint64(f.Length), 10),
		hex.EncodeToString(f.Body),
	})
}

func parseArgs(args []string) (*options, string, error) {
	opts := &options{}
	var path string

	for i := 0; i < len(args); i++ {
		a := args[i]
		if len(a) == 0 || a[0] != '-' {
			if path != "" {
				return nil, "", fmt.Errorf("unexpected extra argument %q", a)
			}
			path = a
			continue
		}
		next := func() (string, error) {
			i++
			if i >= len(args) {
				return "", fmt.Errorf("flag %q requires a value", a)
			}
			return args[i], nil
		}
		switch a {
		case "-V":
			opts.verbose = true
		case "-N":
			opts.rawNsec = true
		case "-t":
			v, err := next()
			if err != nil {
				return nil, "", err
			}
			if err := opts.types.Set(v); err != nil {
				return nil, "", err
			}
		case "-s":
			v, err := next()
			if err != nil {
				return nil, "", err
			}
			if err := opts.shards.Set(v); err != nil {
				return nil, "", err
			}
		case "-d":
			v, err := next()
			if err != nil {
				return nil, "", err
			}
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, "", fmt.Errorf("invalid -d value %q: %w", v, err)
			}
			opts.baseNsec = n
		case "-c":
			v, err := next()
			if err != nil {
				return nil, "", err
			}
			opts.csvPath = v
		case "-o":
			v, err := next()
			if err != nil {
				return nil, "", err
			}
			opts.outPath = v
		default:
			return nil, "", fmt.Errorf("unknown flag %q", a)
		}
	}
	if path == "" {
		return nil, "", errors.New("missing RECFILE argument")
	}
	return opts, path, nil
}

func usage(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "rtdump: %v\n\n", err)
	}
	fmt.Fprint(os.Stderr, `Usage: rtdump [OPTION]... RECFILE
	RECFILE - a record-format (RMD) file

Options:
  -t TYPE   - filter for frame type TYPE (may be specified multiple times)
  -s SHARD  - filter for shard/table id SHARD (may be specified multiple times)
  -V        - verbose: print each matching frame's header to stdout
  -N        - print raw nsec deltas instead of decoded timestamps
  -d NSEC   - base nanosecond timestamp frames are deltas against
  -c CSV    - dump matching frames to CSV
  -o OUT    - write matching frames as a filtered RMD copy
`)
	os.Exit(1)
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "rtdump: "+format+"\n", args...)
	os.Exit(1)
}
