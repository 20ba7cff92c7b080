package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/tejas242/dataloader/internal/batcher"
	"github.com/tejas242/dataloader/internal/config"
	"github.com/tejas242/dataloader/internal/generator"
	"github.com/tejas242/dataloader/internal/loader"
	"github.com/tejas242/dataloader/internal/preprocess"
	"github.com/tejas242/dataloader/internal/tensor/classify"
	"github.com/tejas242/dataloader/internal/tokenizer"
)

var (
	defaultModelDir    = "./models"
	defaultPadToken    = "[PAD]"
	defaultThreads     = 0
	defaultBufferSize  = 128
	defaultOrtLib      = "./lib/onnxruntime.so"
)

func main() {
	root := &cobra.Command{
		Use:   "loadctl",
		Short: "Streaming, tensorized text-data pipeline control plane",
		Long:  "loadctl — drive training/inference epochs over the text dataloader pipeline and inspect batches it produces.",
	}

	if d, err := config.LoadDefaults(".loader.toml"); err == nil {
		if d.ModelDir != "" {
			defaultModelDir = d.ModelDir
		}
		if d.NumThreads > 0 {
			defaultThreads = d.NumThreads
		}
		if d.BufferSize > 0 {
			defaultBufferSize = d.BufferSize
		}
	}

	var modelDir, padToken string
	var numThreads, numPrefixTokens int
	root.PersistentFlags().StringVar(&modelDir, "model-dir", defaultModelDir, "tokenizer model directory (tokenizer.json)")
	root.PersistentFlags().StringVar(&padToken, "pad-token", defaultPadToken, "pad token text")
	root.PersistentFlags().IntVar(&numThreads, "threads", defaultThreads, "pipeline worker threads (0 = auto)")
	root.PersistentFlags().IntVar(&numPrefixTokens, "num-prefix-tokens", 0, "tokens the tokenizer prepends (e.g. [CLS]) that sequence labels must skip")

	openTokenizer := func() (*tokenizer.DauletTokenizer, error) {
		return tokenizer.New(modelDir, padToken, numPrefixTokens)
	}

	// ---- loadctl run ---------------------------------------------------
	var (
		dataPath       string
		labelPatterns  string
		epochs         int
		batchLimitType string
		batchLimit     uint
		sort           bool
		shuffle        bool
		seed           uint64
		skip, limit    int
		rank, world    int
		watch          bool
		watchTimeout   time.Duration
	)
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run one or more training epochs over a text file, printing batch shapes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if labelPatterns == "" {
				return fmt.Errorf("run: --labels is required (comma-separated regex classes)")
			}
			labelFn, err := preprocess.FromRegexClasses(strings.Split(labelPatterns, ","))
			if err != nil {
				return err
			}

			tok, err := openTokenizer()
			if err != nil {
				return fmt.Errorf("loading tokenizer: %w", err)
			}
			defer tok.Close()

			var gen generator.Generator
			if watch {
				// --watch trades the finite, exact-min-len FileGenerator for a
				// tailing source: new lines appended to dataPath while the
				// loader is running are picked up via fsnotify, debounced, and
				// streamed in. The epoch loop below ends once the file has
				// been quiet for watchTimeout.
				gen = generator.NewWatchedFile(dataPath, nil, 0, watchTimeout)
			} else {
				gen, err = generator.NewFile(dataPath, "", nil)
				if err != nil {
					return fmt.Errorf("opening %s: %w", dataPath, err)
				}
			}

			pc := config.PipelineConfig{BatchLimitType: batchLimitType}
			limitType, err := pc.BuildBatchLimitType()
			if err != nil {
				return err
			}

			opts := []loader.Option{
				loader.WithLabel(labelFn),
				loader.WithBatchLimit(limitType, batchLimit),
				loader.WithSkipLimit(skip, limit),
				loader.WithDistributed(rank, world),
			}
			if numThreads > 0 {
				opts = append(opts, loader.WithNumThreads(numThreads))
			}
			if shuffle {
				opts = append(opts, loader.WithShuffle(seed))
			} else if seed != 0 {
				opts = append(opts, loader.WithSeed(seed))
			}
			if sort {
				opts = append(opts, loader.WithSort())
			}

			ld, err := loader.New([]generator.Generator{gen}, tok, opts...)
			if err != nil {
				return fmt.Errorf("building loader: %w", err)
			}

			for epoch := 0; epoch < epochs; epoch++ {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				run, err := ld.Epoch(epoch)
				if err != nil {
					return fmt.Errorf("epoch %d: %w", epoch, err)
				}
				fmt.Fprintf(os.Stderr, "epoch %d: ~%d items (lower bound)\n", epoch, run.MinItems())

				count := 0
				for {
					batch, ok, err := run.Next()
					if err != nil {
						run.Close()
						return fmt.Errorf("epoch %d: %w", epoch, err)
					}
					if !ok {
						break
					}
					count++
					width := 0
					if len(batch.TokenIDs) > 0 {
						width = len(batch.TokenIDs[0])
					}
					fmt.Printf("epoch %d batch %d: shape=[%d,%d] lengths=%v\n",
						epoch, count, len(batch.TokenIDs), width, batch.Lengths)
				}
				if err := run.Close(); err != nil {
					return fmt.Errorf("epoch %d: closing: %w", epoch, err)
				}
				fmt.Fprintf(os.Stderr, "epoch %d: done, %d batches emitted\n", epoch, count)
			}
			return nil
		},
	}
	runCmd.Flags().StringVar(&dataPath, "data", "", "path to a newline-delimited text file")
	runCmd.Flags().StringVar(&labelPatterns, "labels", "", "comma-separated regex classes, first match wins")
	runCmd.Flags().IntVar(&epochs, "epochs", 1, "number of epochs to run")
	runCmd.Flags().StringVar(&batchLimitType, "batch-limit-type", "batch_size", "batch_size or token_count")
	runCmd.Flags().UintVar(&batchLimit, "batch-limit", 32, "batch size, or token budget when batch-limit-type=token_count")
	runCmd.Flags().BoolVar(&sort, "sort", false, "sort each prefetch window by token count before batching (requires --shuffle)")
	runCmd.Flags().BoolVar(&shuffle, "shuffle", false, "shuffle the order of batches across the whole epoch")
	runCmd.Flags().Uint64Var(&seed, "seed", 0, "base seed for shuffling (epoch index is added)")
	runCmd.Flags().IntVar(&skip, "skip", 0, "records to skip from the front")
	runCmd.Flags().IntVar(&limit, "limit", 0, "cap on records read after skipping (0 = unbounded)")
	runCmd.Flags().BoolVar(&watch, "watch", false, "tail --data for appended lines via fsnotify instead of reading it once")
	runCmd.Flags().DurationVar(&watchTimeout, "watch-timeout", 5*time.Second, "with --watch, end the epoch after this long without a new line")
	runCmd.Flags().IntVar(&rank, "rank", 0, "this worker's rank for distributed sharding")
	runCmd.Flags().IntVar(&world, "world-size", 1, "total worker count for distributed sharding")
	_ = runCmd.MarkFlagRequired("data")
	root.AddCommand(runCmd)

	// ---- loadctl inspect -------------------------------------------------
	var inspectLabels string
	var inspectLimit int
	inspectCmd := &cobra.Command{
		Use:   "inspect",
		Short: "Page through a single epoch's batches in an interactive viewer",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dataPath == "" {
				return fmt.Errorf("inspect: --data is required")
			}
			if inspectLabels == "" {
				return fmt.Errorf("inspect: --labels is required (comma-separated regex classes)")
			}
			labelFn, err := preprocess.FromRegexClasses(strings.Split(inspectLabels, ","))
			if err != nil {
				return err
			}
			tok, err := openTokenizer()
			if err != nil {
				return fmt.Errorf("loading tokenizer: %w", err)
			}
			defer tok.Close()

			gen, err := generator.NewFile(dataPath, "", nil)
			if err != nil {
				return fmt.Errorf("opening %s: %w", dataPath, err)
			}
			ld, err := loader.New([]generator.Generator{gen}, tok, loader.WithLabel(labelFn))
			if err != nil {
				return err
			}
			run, err := ld.Epoch(0)
			if err != nil {
				return err
			}
			defer run.Close()

			var summaries []batchSummary
			for len(summaries) < inspectLimit || inspectLimit == 0 {
				batch, ok, err := run.Next()
				if err != nil {
					return err
				}
				if !ok {
					break
				}
				width := 0
				if len(batch.TokenIDs) > 0 {
					width = len(batch.TokenIDs[0])
				}
				summaries = append(summaries, batchSummary{
					index:   len(summaries),
					rows:    len(batch.TokenIDs),
					width:   width,
					lengths: batch.Lengths,
				})
				if inspectLimit > 0 && len(summaries) >= inspectLimit {
					break
				}
			}
			if len(summaries) == 0 {
				fmt.Println("no batches produced")
				return nil
			}
			p := tea.NewProgram(newInspectModel(summaries))
			_, err = p.Run()
			return err
		},
	}
	inspectCmd.Flags().StringVar(&dataPath, "data", "", "path to a newline-delimited text file")
	inspectCmd.Flags().StringVar(&inspectLabels, "labels", "", "comma-separated regex classes, first match wins")
	inspectCmd.Flags().IntVar(&inspectLimit, "limit", 100, "max batches to load into the viewer (0 = unbounded)")
	root.AddCommand(inspectCmd)

	// ---- loadctl bench -----------------------------------------------------
	var (
		classifierPath string
		ortLib         string
		labelsForBench string
		iterations     int
	)
	benchCmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark classify.Model.Classify against one tensorized batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dataPath == "" {
				return fmt.Errorf("bench: --data is required")
			}
			if labelsForBench == "" {
				return fmt.Errorf("bench: --labels is required (comma-separated regex classes)")
			}
			labelFn, err := preprocess.FromRegexClasses(strings.Split(labelsForBench, ","))
			if err != nil {
				return err
			}
			tok, err := openTokenizer()
			if err != nil {
				return fmt.Errorf("loading tokenizer: %w", err)
			}
			defer tok.Close()

			gen, err := generator.NewFile(dataPath, "", nil)
			if err != nil {
				return fmt.Errorf("opening %s: %w", dataPath, err)
			}
			ld, err := loader.New([]generator.Generator{gen}, tok,
				loader.WithLabel(labelFn), loader.WithBatchLimit(batcher.BatchSize, 16))
			if err != nil {
				return err
			}
			run, err := ld.Epoch(0)
			if err != nil {
				return err
			}
			defer run.Close()
			batch, ok, err := run.Next()
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("bench: no batches produced from %s", dataPath)
			}

			model, err := classify.New(classifierPath, ortLib, numThreads)
			if err != nil {
				return fmt.Errorf("loading classifier: %w", err)
			}
			defer model.Close()

			start := time.Now()
			for i := 0; i < iterations; i++ {
				if _, err := model.Classify(batch); err != nil {
					return fmt.Errorf("classify: %w", err)
				}
			}
			elapsed := time.Since(start)
			fmt.Printf("%d rows x %d iterations in %s (%.3fms/iter)\n",
				len(batch.TokenIDs), iterations, elapsed, float64(elapsed.Milliseconds())/float64(iterations))
			return nil
		},
	}
	benchCmd.Flags().StringVar(&dataPath, "data", "", "path to a newline-delimited text file")
	benchCmd.Flags().StringVar(&labelsForBench, "labels", "", "comma-separated regex classes, first match wins")
	benchCmd.Flags().StringVar(&classifierPath, "classifier", "./models/classifier.onnx", "path to an ONNX sequence-classification model")
	benchCmd.Flags().StringVar(&ortLib, "ort-lib", defaultOrtLib, "path to onnxruntime.so")
	benchCmd.Flags().IntVar(&iterations, "iterations", 20, "number of forward passes to time")
	root.AddCommand(benchCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "loadctl:", err)
		os.Exit(1)
	}
}

// batchSummary is what the inspect viewer pages through — shape and
// padding stats rather than raw token ids, which aren't useful to read.
type batchSummary struct {
	index   int
	rows    int
	width   int
	lengths []int
}

var (
	colorAccent = lipgloss.Color("#7C6AF7")
	colorDim    = lipgloss.Color("#555555")
	colorMuted  = lipgloss.Color("#888888")
	colorText   = lipgloss.Color("#DDDDDD")

	sTitle = lipgloss.NewStyle().Bold(true).Foreground(colorText)
	sDim   = lipgloss.NewStyle().Foreground(colorDim)
	sMuted = lipgloss.NewStyle().Foreground(colorMuted)
	sHint  = lipgloss.NewStyle().Foreground(colorDim).Background(lipgloss.Color("#111111"))
)

// inspectModel pages through per-batch summaries. The per-item length list
// is rendered into a bubbles/viewport so a batch with hundreds of rows
// scrolls instead of overflowing the terminal.
type inspectModel struct {
	batches []batchSummary
	cursor  int
	vp      viewport.Model
	ready   bool
}

func newInspectModel(batches []batchSummary) inspectModel {
	return inspectModel{batches: batches}
}

func (m inspectModel) Init() tea.Cmd { return nil }

func (m inspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		headerHeight := 6
		if !m.ready {
			m.vp = viewport.New(msg.Width, msg.Height-headerHeight)
			m.ready = true
		} else {
			m.vp.Width = msg.Width
			m.vp.Height = msg.Height - headerHeight
		}
		m.vp.SetContent(lengthsContent(m.batches[m.cursor]))
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "right", "l", " ":
			if m.cursor < len(m.batches)-1 {
				m.cursor++
				m.vp.SetContent(lengthsContent(m.batches[m.cursor]))
				m.vp.GotoTop()
			}
		case "left", "h":
			if m.cursor > 0 {
				m.cursor--
				m.vp.SetContent(lengthsContent(m.batches[m.cursor]))
				m.vp.GotoTop()
			}
		case "g", "home":
			m.cursor = 0
			m.vp.SetContent(lengthsContent(m.batches[m.cursor]))
			m.vp.GotoTop()
		case "G", "end":
			m.cursor = len(m.batches) - 1
			m.vp.SetContent(lengthsContent(m.batches[m.cursor]))
			m.vp.GotoTop()
		}
	}
	var cmd tea.Cmd
	m.vp, cmd = m.vp.Update(msg)
	return m, cmd
}

func lengthsContent(b batchSummary) string {
	return sDim.Render(fmt.Sprintf("%v", b.lengths))
}

func (m inspectModel) View() string {
	if !m.ready {
		return sDim.Render("loading...")
	}
	b := m.batches[m.cursor]
	avgLen := 0
	for _, l := range b.lengths {
		avgLen += l
	}
	if len(b.lengths) > 0 {
		avgLen /= len(b.lengths)
	}

	var out strings.Builder
	out.WriteString(sTitle.Render(fmt.Sprintf("batch %d / %d", m.cursor+1, len(m.batches))))
	out.WriteString("\n\n")
	out.WriteString(sMuted.Render(fmt.Sprintf("rows:       %d\n", b.rows)))
	out.WriteString(sMuted.Render(fmt.Sprintf("max length: %d\n", b.width)))
	out.WriteString(sMuted.Render(fmt.Sprintf("avg length: %d\n", avgLen)))
	out.WriteString("\n")
	out.WriteString(m.vp.View())
	out.WriteString("\n")
	out.WriteString(sHint.Render("←/→ page  g/G first/last  ↑/↓ scroll  q quit"))
	return out.String()
}
