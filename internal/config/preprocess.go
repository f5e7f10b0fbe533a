// Package config implements the nested key-value configuration surface:
// YAML-shaped scalar/array/sub-scope/sub-scope-array structs, with
// ${NAME} environment-variable and %include/%define preprocessing applied
// to the raw text before YAML unmarshalling, plus required/min/max/enum
// validation (grounded on original_source's ZvCf.cc/ZvCf.hh recursive
// config format).
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Preprocess expands %include and %define directives and ${NAME}
// interpolation in raw config text, returning the fully-expanded bytes
// ready for yaml.Unmarshal. baseDir resolves relative %include paths. Each
// directive line is replaced by an empty line; an %include's expanded text
// follows that empty line.
func Preprocess(raw []byte, baseDir string) ([]byte, error) {
	defines := make(map[string]string)
	return preprocess(raw, baseDir, defines, 0)
}

const maxIncludeDepth = 16

func preprocess(raw []byte, baseDir string, defines map[string]string, depth int) ([]byte, error) {
	if depth > maxIncludeDepth {
		return nil, fmt.Errorf("config: %%include nesting exceeds %d levels", maxIncludeDepth)
	}

	var out strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(string(raw)))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(trimmed, "%define "):
			rest := strings.TrimSpace(strings.TrimPrefix(trimmed, "%define "))
			parts := strings.SplitN(rest, " ", 2)
			if len(parts) != 2 {
				return nil, fmt.Errorf("config: malformed %%define directive: %q", line)
			}
			defines[parts[0]] = strings.TrimSpace(parts[1])
			out.WriteByte('\n')

		case strings.HasPrefix(trimmed, "%include "):
			incPath := strings.TrimSpace(strings.TrimPrefix(trimmed, "%include "))
			incPath = strings.Trim(incPath, `"`)
			if !filepath.IsAbs(incPath) {
				incPath = filepath.Join(baseDir, incPath)
			}
			data, err := os.ReadFile(incPath)
			if err != nil {
				return nil, fmt.Errorf("config: %%include %s: %w", incPath, err)
			}
			expanded, err := preprocess(data, filepath.Dir(incPath), defines, depth+1)
			if err != nil {
				return nil, err
			}
			out.WriteByte('\n')
			out.Write(expanded)
			out.WriteByte('\n')

		default:
			out.WriteString(interpolate(line, defines))
			out.WriteByte('\n')
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: scanning: %w", err)
	}
	return []byte(out.String()), nil
}

// interpolate replaces every ${NAME} in line, preferring a %define'd value
// and falling back to the process environment. An unresolved reference is
// left verbatim.
func interpolate(line string, defines map[string]string) string {
	var out strings.Builder
	i := 0
	for i < len(line) {
		if i+1 < len(line) && line[i] == '$' && line[i+1] == '{' {
			end := strings.IndexByte(line[i+2:], '}')
			if end >= 0 {
				name := line[i+2 : i+2+end]
				if v, ok := defines[name]; ok {
					out.WriteString(v)
				} else if v, ok := os.LookupEnv(name); ok {
					out.WriteString(v)
				} else {
					out.WriteString(line[i : i+2+end+1])
				}
				i += 2 + end + 1
				continue
			}
		}
		out.WriteByte(line[i])
		i++
	}
	return out.String()
}
