// gtest runs the code generator over a set of interchange programs and
// compares the emitted assembly with recorded golden files.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/go-cmp/cmp"
)

type Execution struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exitCode"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timed_out"`
}

// Golden is the recorded output of one program.
type Golden struct {
	InputHash string    `json:"input_hash"`
	Args      []string  `json:"args,omitempty"`
	Assembly  string    `json:"assembly"`
	Generate  Execution `json:"generate"`
}

type FileTestResult struct {
	File    string  `json:"file"`
	Status  string  `json:"status"` // PASS, FAIL, SKIP, ERROR, STALE
	Message string  `json:"message,omitempty"`
	Diff    string  `json:"diff,omitempty"`
	Target  *Golden `json:"target,omitempty"`
}

var (
	targetCompiler = flag.String("target-compiler", "./x64gen", "Path to the code generator to test.")
	targetArgs     = flag.String("target-args", "", "Arguments for the code generator (space-separated).")
	generateGolden = flag.String("generate-golden", "", "Generate golden files for the given programs (space-separated globs).")
	testFiles      = flag.String("test-files", "tests/*.json", "Glob pattern(s) for programs to test (space-separated).")
	skipFiles      = flag.String("skip-files", "", "Files to skip (space-separated).")
	outputJSON     = flag.String("output", ".test_results.json", "Output file for the JSON test report.")
	timeout        = flag.Duration("timeout", 5*time.Second, "Timeout for each generator run.")
	jobs           = flag.Int("j", 4, "Number of parallel test jobs.")
	verbose        = flag.Bool("v", false, "Print the diff of every failure.")
	jsonDir        = flag.String("dir", "", "Directory to store/read golden files (defaults to the program's dir).")
)

const (
	cRed    = "\x1b[91m"
	cYellow = "\x1b[93m"
	cGreen  = "\x1b[92m"
	cCyan   = "\x1b[96m"
	cBold   = "\x1b[1m"
	cNone   = "\x1b[0m"
)

func main() {
	flag.Parse()
	log.SetFlags(0)

	tempDir, err := os.MkdirTemp("", "gtest-*")
	if err != nil {
		log.Fatalf("%s[ERROR]%s Failed to create temp directory: %v\n", cRed, cNone, err)
	}
	defer os.RemoveAll(tempDir)
	setupInterruptHandler(tempDir)

	if *generateGolden != "" {
		handleGenerateGolden(*generateGolden, tempDir)
		return
	}
	if failed := handleRunTestSuite(tempDir); failed {
		os.RemoveAll(tempDir)
		os.Exit(1)
	}
}

// setupInterruptHandler is used to clean up on CTRL+C
func setupInterruptHandler(tempDir string) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		<-c
		os.RemoveAll(tempDir)
		fmt.Printf("\n%s[INTERRUPT]%s Test run cancelled. Cleaning up...\n", cYellow, cNone)
		os.Exit(1)
	}()
}

func goldenPath(program string) string {
	name := "." + filepath.Base(program) + ".golden"
	if *jsonDir != "" {
		return filepath.Join(*jsonDir, name)
	}
	return filepath.Join(filepath.Dir(program), name)
}

// hashFile computes the xxhash of a file's content
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum64()), nil
}

func expandGlobPatterns(patterns string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	for _, pattern := range strings.Fields(patterns) {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

func handleGenerateGolden(patterns, tempDir string) {
	files, err := expandGlobPatterns(patterns)
	if err != nil {
		log.Fatalf("%s[ERROR]%s Invalid glob pattern(s): %v\n", cRed, cNone, err)
	}
	if *jsonDir != "" {
		if err := os.MkdirAll(*jsonDir, 0755); err != nil {
			log.Fatalf("%s[ERROR]%s Failed to create directory %s: %v\n", cRed, cNone, *jsonDir, err)
		}
	}
	for _, file := range files {
		g, err := generate(file, tempDir)
		if err != nil {
			log.Fatalf("%s[ERROR]%s Could not generate golden file for %s: %v\n", cRed, cNone, file, err)
		}
		data, err := json.MarshalIndent(g, "", "  ")
		if err != nil {
			log.Fatalf("%s[ERROR]%s Failed to marshal golden data: %v\n", cRed, cNone, err)
		}
		if err := os.WriteFile(goldenPath(file), data, 0644); err != nil {
			log.Fatalf("%s[ERROR]%s Failed to write golden file for %s: %v\n", cRed, cNone, file, err)
		}
		log.Printf("%s[SUCCESS]%s Golden file created at %s\n", cGreen, cNone, goldenPath(file))
	}
}

func handleRunTestSuite(tempDir string) bool {
	files, err := expandGlobPatterns(*testFiles)
	if err != nil {
		log.Fatalf("%s[ERROR]%s Invalid glob pattern(s): %v\n", cRed, cNone, err)
	}
	if len(files) == 0 {
		log.Println("No test files found matching the pattern(s).")
		return false
	}

	skipList := make(map[string]bool)
	for _, f := range strings.Fields(*skipFiles) {
		skipList[f] = true
	}

	tasks := make(chan string, len(files))
	resultsChan := make(chan *FileTestResult, len(files))
	var wg sync.WaitGroup
	for i := 0; i < max(*jobs, 1); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for file := range tasks {
				resultsChan <- testFile(file, tempDir)
			}
		}()
	}

	// Programs with identical content are only tested once
	seenHashes := make(map[string]string)
	for _, file := range files {
		if skipList[file] {
			resultsChan <- &FileTestResult{File: file, Status: "SKIP", Message: "Explicitly skipped"}
			continue
		}
		fileHash, err := hashFile(file)
		if err != nil {
			resultsChan <- &FileTestResult{File: file, Status: "ERROR", Message: fmt.Sprintf("Failed to read file for hashing: %v", err)}
			continue
		}
		if originalFile, seen := seenHashes[fileHash]; seen {
			resultsChan <- &FileTestResult{File: file, Status: "SKIP", Message: fmt.Sprintf("Content is identical to %s", originalFile)}
			continue
		}
		seenHashes[fileHash] = file
		tasks <- file
	}
	close(tasks)
	wg.Wait()
	close(resultsChan)

	var results []*FileTestResult
	for r := range resultsChan {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].File < results[j].File })

	failed := printSummary(results)
	writeJSONReport(results)
	return failed
}

func testFile(file, tempDir string) *FileTestResult {
	data, err := os.ReadFile(goldenPath(file))
	if err != nil {
		return &FileTestResult{File: file, Status: "SKIP", Message: "No golden file, run with --generate-golden first"}
	}
	var want Golden
	if err := json.Unmarshal(data, &want); err != nil {
		return &FileTestResult{File: file, Status: "ERROR", Message: fmt.Sprintf("Could not parse golden file: %v", err)}
	}

	got, err := generate(file, tempDir)
	if err != nil {
		return &FileTestResult{File: file, Status: "ERROR", Message: err.Error()}
	}
	if got.InputHash != want.InputHash {
		return &FileTestResult{File: file, Status: "STALE", Message: "Program changed since the golden file was recorded", Target: got}
	}

	var diffs strings.Builder
	if got.Generate.ExitCode != want.Generate.ExitCode {
		fmt.Fprintf(&diffs, "Exit code mismatch:\n  - Golden: %d\n  - Target: %d\n", want.Generate.ExitCode, got.Generate.ExitCode)
	}
	if d := cmp.Diff(want.Assembly, got.Assembly); d != "" {
		fmt.Fprintf(&diffs, "Assembly mismatch (-golden +target):\n%s", d)
	}
	if d := cmp.Diff(want.Generate.Stderr, got.Generate.Stderr); d != "" {
		fmt.Fprintf(&diffs, "Diagnostics mismatch (-golden +target):\n%s", d)
	}
	if diffs.Len() > 0 {
		return &FileTestResult{File: file, Status: "FAIL", Message: "Output differs from golden file", Diff: diffs.String(), Target: got}
	}
	return &FileTestResult{File: file, Status: "PASS", Target: got}
}

// executeCommand runs a command with a timeout and captures its output
func executeCommand(ctx context.Context, command string, args ...string) Execution {
	startTime := time.Now()
	cmd := exec.CommandContext(ctx, command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Execution{Stdout: stdout.String(), Stderr: stderr.String(), Duration: time.Since(startTime)}
	switch exitErr, isExit := err.(*exec.ExitError); {
	case ctx.Err() == context.DeadlineExceeded:
		res.TimedOut = true
		res.ExitCode = -1
	case isExit:
		res.ExitCode = exitErr.ExitCode()
	case err != nil:
		res.ExitCode = -2
		res.Stderr += "\nExecution error: " + err.Error()
	}
	return res
}

// generate runs the code generator in assembly-only mode.
func generate(file, tempDir string) (*Golden, error) {
	fileHash, err := hashFile(file)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	asmPath := filepath.Join(tempDir, fileHash+".asm")
	args := append([]string{"-S", "-o", asmPath}, strings.Fields(*targetArgs)...)
	args = append(args, file)
	res := executeCommand(ctx, *targetCompiler, args...)
	if res.TimedOut {
		return nil, fmt.Errorf("generator timed out after %s", *timeout)
	}
	g := &Golden{InputHash: fileHash, Args: strings.Fields(*targetArgs), Generate: res}
	if res.ExitCode == 0 {
		text, err := os.ReadFile(asmPath)
		if err != nil {
			return nil, fmt.Errorf("generator succeeded but wrote no assembly: %w", err)
		}
		g.Assembly = string(text)
	}
	g.Generate.Duration = 0
	return g, nil
}

func printSummary(results []*FileTestResult) bool {
	counts := make(map[string]int)
	for _, r := range results {
		counts[r.Status]++
		colour := cGreen
		switch r.Status {
		case "FAIL", "ERROR":
			colour = cRed
		case "SKIP", "STALE":
			colour = cYellow
		}
		if r.Status == "PASS" && !*verbose {
			continue
		}
		fmt.Printf("%s[%s]%s %s", colour, r.Status, cNone, r.File)
		if r.Message != "" {
			fmt.Printf(": %s", r.Message)
		}
		fmt.Println()
		if r.Diff != "" && (*verbose || r.Status == "FAIL") {
			fmt.Println(r.Diff)
		}
	}
	fmt.Printf("\n%s%sSummary:%s %s%d passed%s, %s%d failed%s, %d errored, %d stale, %d skipped\n",
		cBold, cCyan, cNone, cGreen, counts["PASS"], cNone, cRed, counts["FAIL"], cNone,
		counts["ERROR"], counts["STALE"], counts["SKIP"])
	return counts["FAIL"]+counts["ERROR"] > 0
}

func writeJSONReport(results []*FileTestResult) {
	report := make(map[string]*FileTestResult, len(results))
	for _, r := range results {
		report[r.File] = r
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Printf("%s[WARN]%s Failed to marshal test report: %v\n", cYellow, cNone, err)
		return
	}
	outputFile := *outputJSON
	if *jsonDir != "" {
		outputFile = filepath.Join(*jsonDir, *outputJSON)
	}
	if err := os.WriteFile(outputFile, data, 0644); err != nil {
		log.Printf("%s[WARN]%s Failed to write test report %s: %v\n", cYellow, cNone, outputFile, err)
	}
}
