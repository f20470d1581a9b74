package main

import (
	"bufio"
	"context"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/Turakar/fastar-loader/fastar"
	"github.com/Turakar/fastar-loader/fastar/metrics"
	"github.com/Turakar/fastar-loader/fastar/segment"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

var (
	configPath      string
	shmDir          string
	cacheDir        string
	cachePolicy     string
	strict          bool
	minContigLength uint64
	logLevel        string

	workers     int
	noProgress  bool
	removeAll   bool
	iterations  int
	readLength  uint64
	metricsAddr string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fastar",
		Short: "Random access into BGZF-compressed FASTA files through shared indices",
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML or JSON options file")
	rootCmd.PersistentFlags().StringVar(&shmDir, "shm-dir", "", "Directory for shared memory segments (default /dev/shm)")
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "Directory for index cache files (default next to each source)")
	rootCmd.PersistentFlags().StringVar(&cachePolicy, "cache-policy", string(fastar.CacheReadWrite), "Cache policy: readwrite, rebuild or disabled")
	rootCmd.PersistentFlags().BoolVar(&strict, "strict", false, "Fail on the first source that cannot be loaded")
	rootCmd.PersistentFlags().Uint64Var(&minContigLength, "min-contig-length", 0, "Drop contigs shorter than this from the index")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: silent, error, warn, info or debug")

	namesCmd := &cobra.Command{
		Use:   "names <DIR>",
		Short: "List the FASTA sources under a directory",
		Args:  cobra.ExactArgs(1),
		Run:   runNames,
	}

	contigsCmd := &cobra.Command{
		Use:   "contigs <DIR> <NAME>",
		Short: "List the contigs of a source with their lengths",
		Args:  cobra.ExactArgs(2),
		Run:   runContigs,
	}

	readCmd := &cobra.Command{
		Use:   "read <DIR> <NAME> <CONTIG> <START> <LENGTH>",
		Short: "Print a range of bases from a contig",
		Args:  cobra.ExactArgs(5),
		Run:   runRead,
	}

	warmCmd := &cobra.Command{
		Use:   "warm <DIR> [NAME...]",
		Short: "Build or attach the shared segments of many sources in parallel",
		Args:  cobra.MinimumNArgs(1),
		Run:   runWarm,
	}
	warmCmd.Flags().IntVar(&workers, "workers", 0, "Number of sources loaded in parallel (default number of CPUs)")
	warmCmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable progress bar (progress is enabled on terminals)")

	segmentsCmd := &cobra.Command{
		Use:   "segments",
		Short: "Inspect or remove shared memory segments",
	}
	segmentsListCmd := &cobra.Command{
		Use:   "list",
		Short: "List published segments",
		Args:  cobra.NoArgs,
		Run:   runSegmentsList,
	}
	segmentsRmCmd := &cobra.Command{
		Use:   "rm [SEGMENT...]",
		Short: "Remove segments; processes that have them mapped are unaffected",
		Run:   runSegmentsRm,
	}
	segmentsRmCmd.Flags().BoolVar(&removeAll, "all", false, "Remove every segment in the directory")
	segmentsCmd.AddCommand(segmentsListCmd, segmentsRmCmd)

	benchCmd := &cobra.Command{
		Use:   "bench <DIR> <NAME>",
		Short: "Measure random read throughput of one source",
		Args:  cobra.ExactArgs(2),
		Run:   runBench,
	}
	benchCmd.Flags().IntVar(&workers, "workers", 0, "Number of concurrent readers (default number of CPUs)")
	benchCmd.Flags().IntVar(&iterations, "iterations", 10000, "Reads per worker")
	benchCmd.Flags().Uint64Var(&readLength, "length", 1000, "Bases per read")
	benchCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")

	trackCmd := &cobra.Command{
		Use:   "track",
		Short: "Read float32 tracks stored as <NAME>.track.gz with .idx and .gzi indices",
	}
	trackNamesCmd := &cobra.Command{
		Use:   "names <DIR>",
		Short: "List the tracks under a directory",
		Args:  cobra.ExactArgs(1),
		Run:   runTrackNames,
	}
	trackContigsCmd := &cobra.Command{
		Use:   "contigs <DIR> <NAME>",
		Short: "List the contigs of a track with their value counts",
		Args:  cobra.ExactArgs(2),
		Run:   runTrackContigs,
	}
	trackReadCmd := &cobra.Command{
		Use:   "read <DIR> <NAME> <CONTIG> <START> <LENGTH>",
		Short: "Print a range of track values, one per line",
		Args:  cobra.ExactArgs(5),
		Run:   runTrackRead,
	}
	trackWarmCmd := &cobra.Command{
		Use:   "warm <DIR> [NAME...]",
		Short: "Build or attach the shared segments of many tracks in parallel",
		Args:  cobra.MinimumNArgs(1),
		Run:   runTrackWarm,
	}
	trackWarmCmd.Flags().IntVar(&workers, "workers", 0, "Number of tracks loaded in parallel (default number of CPUs)")
	trackWarmCmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable progress bar (progress is enabled on terminals)")
	trackCmd.AddCommand(trackNamesCmd, trackContigsCmd, trackReadCmd, trackWarmCmd)

	rootCmd.AddCommand(namesCmd, contigsCmd, readCmd, warmCmd, segmentsCmd, benchCmd, trackCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// loadOptions layers explicitly set flags over the config file over defaults.
func loadOptions(cmd *cobra.Command) fastar.Options {
	opts := fastar.DefaultOptions()
	if configPath != "" {
		var err error
		opts, err = fastar.LoadOptions(configPath)
		if err != nil {
			fail("%v", err)
		}
	}

	flags := cmd.Flags()
	if flags.Changed("shm-dir") {
		opts.ShmDir = shmDir
	}
	if flags.Changed("cache-dir") {
		opts.CacheDir = cacheDir
	}
	if flags.Changed("cache-policy") {
		opts.CachePolicy = fastar.CachePolicy(cachePolicy)
	}
	if flags.Changed("strict") {
		opts.Strict = strict
	}
	if flags.Changed("min-contig-length") {
		opts.MinContigLength = minContigLength
	}
	if flags.Changed("log-level") {
		opts.LogLevel = logLevel
	}
	if flags.Changed("workers") {
		opts.Workers = workers
	}

	if err := opts.Validate(); err != nil {
		fail("%v", err)
	}
	return opts
}

func newLoader(cmd *cobra.Command, dir string) *fastar.Loader {
	l, err := fastar.NewLoader(dir, loadOptions(cmd))
	if err != nil {
		fail("%v", err)
	}
	return l
}

func newTrackLoader(cmd *cobra.Command, dir string) *fastar.TrackLoader {
	tl, err := fastar.NewTrackLoader(dir, loadOptions(cmd))
	if err != nil {
		fail("%v", err)
	}
	return tl
}

func openSource(cmd *cobra.Command, dir, name string) *fastar.Handle {
	h, err := newLoader(cmd, dir).Open(name)
	if err != nil {
		fail("%v", err)
	}
	return h
}

func runNames(cmd *cobra.Command, args []string) {
	names, err := newLoader(cmd, args[0]).Names()
	if err != nil {
		fail("%v", err)
	}
	for _, name := range names {
		fmt.Println(name)
	}
}

func runContigs(cmd *cobra.Command, args []string) {
	h := openSource(cmd, args[0], args[1])
	defer h.Close()

	for _, c := range h.Contigs() {
		fmt.Printf("%s\t%d\n", c.Name, c.Length)
	}
}

func parseRange(args []string) (uint64, uint64) {
	start, err := strconv.ParseUint(args[3], 10, 64)
	if err != nil {
		fail("invalid start %q: %v", args[3], err)
	}
	length, err := strconv.ParseUint(args[4], 10, 64)
	if err != nil {
		fail("invalid length %q: %v", args[4], err)
	}
	return start, length
}

func runRead(cmd *cobra.Command, args []string) {
	start, length := parseRange(args)

	h := openSource(cmd, args[0], args[1])
	defer h.Close()

	seq, err := h.ReadSequence(args[2], start, length)
	if err != nil {
		fail("%v", err)
	}
	os.Stdout.Write(seq)
	fmt.Println()
}

// warmer is implemented by Loader and TrackLoader.
type warmer interface {
	Names() ([]string, error)
	Warm(ctx context.Context, names []string, progress fastar.ProgressCallback) (*fastar.WarmReport, error)
}

func runWarm(cmd *cobra.Command, args []string) {
	warm(newLoader(cmd, args[0]), args[1:])
}

func warm(l warmer, names []string) {
	if len(names) == 0 {
		var err error
		names, err = l.Names()
		if err != nil {
			fail("%v", err)
		}
	}

	showProgress := !noProgress && term.IsTerminal(int(os.Stderr.Fd()))

	var progressCallback fastar.ProgressCallback
	var bar *progressbar.ProgressBar
	if showProgress {
		bar = progressbar.Default(int64(len(names)), "Warming")
		progressCallback = func(current, total int64) {
			bar.Set64(current)
		}
	}

	began := time.Now()
	report, err := l.Warm(context.Background(), names, progressCallback)
	if showProgress {
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		fail("%v", err)
	}

	fmt.Printf("Loaded %d/%d sources in %s", len(report.Loaded), len(names), time.Since(began).Round(time.Millisecond))
	if len(report.Failed) > 0 {
		fmt.Printf(" (%d failed)", len(report.Failed))
	}
	fmt.Println()
	for name, err := range report.Failed {
		fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
	}
}

func runTrackNames(cmd *cobra.Command, args []string) {
	names, err := newTrackLoader(cmd, args[0]).Names()
	if err != nil {
		fail("%v", err)
	}
	for _, name := range names {
		fmt.Println(name)
	}
}

func runTrackContigs(cmd *cobra.Command, args []string) {
	h, err := newTrackLoader(cmd, args[0]).Open(args[1])
	if err != nil {
		fail("%v", err)
	}
	defer h.Close()

	for _, c := range h.Contigs() {
		fmt.Printf("%s\t%d\n", c.Name, c.Length)
	}
}

func runTrackRead(cmd *cobra.Command, args []string) {
	start, length := parseRange(args)

	h, err := newTrackLoader(cmd, args[0]).Open(args[1])
	if err != nil {
		fail("%v", err)
	}
	defer h.Close()

	values, err := h.ReadTrack(args[2], start, length)
	if err != nil {
		fail("%v", err)
	}
	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()
	for _, v := range values {
		w.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
		w.WriteByte('\n')
	}
}

func runTrackWarm(cmd *cobra.Command, args []string) {
	warm(newTrackLoader(cmd, args[0]), args[1:])
}

func runSegmentsList(cmd *cobra.Command, args []string) {
	opts := loadOptions(cmd)
	store := segment.NewStore(opts.ShmDir)

	infos, err := store.List()
	if err != nil {
		fail("%v", err)
	}
	fmt.Printf("Segments in %s:\n", store.Dir())
	for _, info := range infos {
		identity := info.Identity.String()
		if identity == "" {
			identity = "(unreadable header)"
		}
		fmt.Printf("%s\t%d bytes\t%s\t%s\n", info.Name, info.Size, info.ModTime.Format(time.RFC3339), identity)
	}
}

func runSegmentsRm(cmd *cobra.Command, args []string) {
	opts := loadOptions(cmd)
	store := segment.NewStore(opts.ShmDir)

	names := args
	if removeAll {
		infos, err := store.List()
		if err != nil {
			fail("%v", err)
		}
		names = names[:0]
		for _, info := range infos {
			names = append(names, info.Name)
		}
	}
	if len(names) == 0 {
		fail("no segments given; pass names or --all")
	}

	failed := 0
	for _, name := range names {
		if err := store.Remove(name); err != nil {
			fmt.Fprintf(os.Stderr, "Error removing %s: %v\n", name, err)
			failed++
			continue
		}
		fmt.Printf("Removed %s\n", name)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func runBench(cmd *cobra.Command, args []string) {
	l := newLoader(cmd, args[0])
	if metricsAddr != "" {
		metrics.StartMetricsServer(metricsAddr)
	}

	opened := time.Now()
	h, err := l.Open(args[1])
	if err != nil {
		fail("%v", err)
	}
	defer h.Close()
	openTime := time.Since(opened)

	var contigs []fastar.ContigInfo
	for _, c := range h.Contigs() {
		if c.Length >= readLength {
			contigs = append(contigs, c)
		}
	}
	if len(contigs) == 0 {
		fail("no contig is at least %d bases long", readLength)
	}

	n := l.Options().Workers
	var bases atomic.Int64
	g := new(errgroup.Group)
	began := time.Now()
	for w := 0; w < n; w++ {
		rng := rand.New(rand.NewSource(int64(w)))
		g.Go(func() error {
			for i := 0; i < iterations; i++ {
				c := contigs[rng.Intn(len(contigs))]
				start := uint64(rng.Int63n(int64(c.Length - readLength + 1)))
				seq, err := h.ReadSequence(c.Name, start, readLength)
				if err != nil {
					return err
				}
				bases.Add(int64(len(seq)))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		fail("%v", err)
	}
	elapsed := time.Since(began)

	reads := n * iterations
	fmt.Printf("Open: %s (created segment: %v)\n", openTime.Round(time.Microsecond), h.Created())
	fmt.Printf("Reads: %d by %d workers in %s\n", reads, n, elapsed.Round(time.Millisecond))
	fmt.Printf("Throughput: %.0f reads/s, %.2f MB/s\n",
		float64(reads)/elapsed.Seconds(),
		float64(bases.Load())/elapsed.Seconds()/1e6)
}
