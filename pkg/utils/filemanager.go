// =============================================================================
// Collection Aggregator - File Manager Utility
// =============================================================================
//
// This module provides the file handling used by batch aggregation:
//   - Finding raw collection workbooks in the input directory
//   - Naming output files
//   - Moving processed inputs to the archive
//   - Writing the run summary
//
// ARCHIVAL:
//   - Inputs are moved to the input archive only after their aggregate was
//     written, and only when archive_inputs is enabled
//   - Failed inputs stay where they are so they can be fixed and re-run
//
// =============================================================================

package utils

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// InputExtensions are the file types picked up from the input directory.
var InputExtensions = []string{".xlsx", ".xlsm", ".xls", ".csv"}

const timestampLayout = "20060102_150405"

// =============================================================================
// FILE MANAGER
// =============================================================================

// FileManager handles file operations for batch runs.
type FileManager struct {
	InputDir        string
	OutputDir       string
	InputArchiveDir string

	// UseDateSubdirs files archived inputs under YYYY/MM/DD.
	UseDateSubdirs bool

	// now is replaced in tests.
	now func() time.Time
}

// NewFileManager creates a FileManager for the given directories.
func NewFileManager(inputDir, outputDir, inputArchiveDir string) *FileManager {
	return &FileManager{
		InputDir:        inputDir,
		OutputDir:       outputDir,
		InputArchiveDir: inputArchiveDir,
		now:             time.Now,
	}
}

// EnsureDirectories creates the input and output directories, and the
// archive directory when one is configured.
func (fm *FileManager) EnsureDirectories() error {
	dirs := []string{fm.InputDir, fm.OutputDir}
	if fm.InputArchiveDir != "" {
		dirs = append(dirs, fm.InputArchiveDir)
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return eris.Wrapf(err, "filemanager: create directory %s", dir)
		}
	}
	return nil
}

// =============================================================================
// FILE DISCOVERY
// =============================================================================

// DiscoverInputFiles lists the workbooks directly inside the input
// directory, sorted by name. Extensions match case-insensitively; hidden
// files and Excel lock files ("~$...") are ignored.
func (fm *FileManager) DiscoverInputFiles() ([]string, error) {
	entries, err := os.ReadDir(fm.InputDir)
	if err != nil {
		return nil, eris.Wrapf(err, "filemanager: read input directory %s", fm.InputDir)
	}

	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~$") {
			continue
		}
		if IsInputFile(name) {
			files = append(files, filepath.Join(fm.InputDir, name))
		}
	}

	sort.Strings(files)
	return files, nil
}

// IsInputFile reports whether name has one of the InputExtensions.
func IsInputFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, want := range InputExtensions {
		if ext == want {
			return true
		}
	}
	return false
}

// =============================================================================
// OUTPUT FILE NAMING
// =============================================================================

// OutputFileName expands an output name format for one input.
//
// PARAMETERS:
//   - format: the name format. Placeholders:
//     {name}      - input file name without extension
//     {uuid}      - a random UUID
//     {timestamp} - current time (YYYYMMDD_HHMMSS)
//     {date}      - current date (YYYYMMDD)
//   - inputPath: the input file.
//   - ext: the extension the output must end with, e.g. ".json".
//
// RETURNS:
//   - The file name. Any extension in format is replaced by ext.
//
// EXAMPLE:
//
//	format:    "{name}_{timestamp}.json"
//	inputPath: "input/Collection_Oct.xlsx"
//	ext:       ".xlsx"
//	output:    "Collection_Oct_20261019_143022.xlsx"
func (fm *FileManager) OutputFileName(format, inputPath, ext string) string {
	now := fm.now()
	base := filepath.Base(inputPath)

	name := strings.NewReplacer(
		"{name}", strings.TrimSuffix(base, filepath.Ext(base)),
		"{uuid}", uuid.NewString(),
		"{timestamp}", now.Format(timestampLayout),
		"{date}", now.Format("20060102"),
	).Replace(format)

	return strings.TrimSuffix(name, filepath.Ext(name)) + ext
}

// OutputPath joins OutputFileName to the output directory.
func (fm *FileManager) OutputPath(format, inputPath, ext string) string {
	return filepath.Join(fm.OutputDir, fm.OutputFileName(format, inputPath, ext))
}

// =============================================================================
// FILE ARCHIVAL
// =============================================================================

// ArchiveInputFile moves an input file into the input archive.
//
// RETURNS:
//   - The archived path.
//   - An error if the move fails. The original is left in place unless it
//     was fully copied.
func (fm *FileManager) ArchiveInputFile(filePath string) (string, error) {
	archivePath := fm.archivePath(filePath)

	if err := os.MkdirAll(filepath.Dir(archivePath), 0755); err != nil {
		return "", eris.Wrap(err, "filemanager: create archive directory")
	}

	if err := os.Rename(filePath, archivePath); err != nil {
		// Rename fails across devices; fall back to copy and delete.
		if err := copyFile(filePath, archivePath); err != nil {
			return "", eris.Wrap(err, "filemanager: copy file to archive")
		}
		if err := os.Remove(filePath); err != nil {
			return "", eris.Wrap(err, "filemanager: remove archived input")
		}
	}

	return archivePath, nil
}

func (fm *FileManager) archivePath(filePath string) string {
	dir := fm.InputArchiveDir
	if fm.UseDateSubdirs {
		now := fm.now()
		dir = filepath.Join(dir,
			fmt.Sprintf("%d", now.Year()),
			fmt.Sprintf("%02d", now.Month()),
			fmt.Sprintf("%02d", now.Day()),
		)
	}
	return filepath.Join(dir, filepath.Base(filePath))
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

// =============================================================================
// RUN SUMMARY
// =============================================================================

// ProcessingSummary describes one batch run.
type ProcessingSummary struct {
	StartTime time.Time
	EndTime   time.Time
	DryRun    bool

	ProcessedFiles []ProcessedFileInfo
	FailedFiles    []FailedFileInfo
}

// ProcessedFileInfo describes an input that was aggregated.
type ProcessedFileInfo struct {
	InputFile      string
	OutputFile     string
	ArchivePath    string
	Rows           int
	Branches       int
	Officers       int
	Fallback       bool
	FallbackReason string
	ProcessTime    time.Duration
}

// FailedFileInfo describes an input that could not be aggregated.
type FailedFileInfo struct {
	InputFile    string
	ErrorMessage string
}

// TotalFiles is the number of inputs attempted.
func (s *ProcessingSummary) TotalFiles() int {
	return len(s.ProcessedFiles) + len(s.FailedFiles)
}

// TotalRows is the number of data rows aggregated across inputs.
func (s *ProcessingSummary) TotalRows() int {
	total := 0
	for _, pf := range s.ProcessedFiles {
		total += pf.Rows
	}
	return total
}

// WriteSummaryLog writes the summary to summary_<timestamp>.log in the
// output directory and returns its path.
func (fm *FileManager) WriteSummaryLog(summary *ProcessingSummary) (string, error) {
	path := filepath.Join(fm.OutputDir, "summary_"+fm.now().Format(timestampLayout)+".log")

	file, err := os.Create(path)
	if err != nil {
		return "", eris.Wrap(err, "filemanager: create summary log")
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	rule := strings.Repeat("=", 80) + "\n"

	fmt.Fprintf(w, "Collection Aggregator - Run Summary\n%s\n", rule)
	fmt.Fprintf(w, "Run Information:\n")
	fmt.Fprintf(w, "  Start Time:  %s\n", summary.StartTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "  End Time:    %s\n", summary.EndTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "  Duration:    %s\n", summary.EndTime.Sub(summary.StartTime))
	if summary.DryRun {
		fmt.Fprintf(w, "  Dry Run:     yes (no outputs written)\n")
	}
	fmt.Fprintf(w, "\nStatistics:\n")
	fmt.Fprintf(w, "  Total Files: %d\n", summary.TotalFiles())
	fmt.Fprintf(w, "  Successful:  %d\n", len(summary.ProcessedFiles))
	fmt.Fprintf(w, "  Failed:      %d\n", len(summary.FailedFiles))
	fmt.Fprintf(w, "  Total Rows:  %d\n\n", summary.TotalRows())

	if len(summary.ProcessedFiles) > 0 {
		fmt.Fprintf(w, "Successful Files:\n%s", strings.Repeat("-", 80)+"\n")
		for _, pf := range summary.ProcessedFiles {
			fmt.Fprintf(w, "  Input:     %s\n", pf.InputFile)
			if pf.OutputFile != "" {
				fmt.Fprintf(w, "  Output:    %s\n", pf.OutputFile)
			}
			if pf.ArchivePath != "" {
				fmt.Fprintf(w, "  Archived:  %s\n", pf.ArchivePath)
			}
			fmt.Fprintf(w, "  Rows:      %d (%d branches, %d officers)\n", pf.Rows, pf.Branches, pf.Officers)
			if pf.Fallback {
				fmt.Fprintf(w, "  Detail:    omitted (%s)\n", pf.FallbackReason)
			}
			fmt.Fprintf(w, "  Time:      %s\n\n", pf.ProcessTime)
		}
	}

	if len(summary.FailedFiles) > 0 {
		fmt.Fprintf(w, "Failed Files:\n%s", strings.Repeat("-", 80)+"\n")
		for _, ff := range summary.FailedFiles {
			fmt.Fprintf(w, "  File:  %s\n", ff.InputFile)
			fmt.Fprintf(w, "  Error: %s\n\n", ff.ErrorMessage)
		}
	}

	fmt.Fprintf(w, "%sEnd of Summary\n", rule)

	if err := w.Flush(); err != nil {
		return "", eris.Wrap(err, "filemanager: write summary log")
	}
	return path, nil
}
