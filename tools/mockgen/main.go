package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/zheng/argus/internal/astfix"
)

// Config represents the mock workspace configuration
type Config struct {
	OutputDir     string
	NumContracts  int
	NumFuncsPerC  int
	MaxDepth      int
	CallDensity   float64 // 每个函数平均调用几个其他函数
	Seed          int64
	ArtifactsPath string
}

func main() {
	cfg := Config{}
	flag.StringVar(&cfg.OutputDir, "o", "./mock-workspace", "输出目录")
	flag.IntVar(&cfg.NumContracts, "contracts", 20, "合约数量")
	flag.IntVar(&cfg.NumFuncsPerC, "funcs", 30, "每个合约的函数数量")
	flag.IntVar(&cfg.MaxDepth, "depth", 6, "最大调用深度")
	flag.Float64Var(&cfg.CallDensity, "density", 2.0, "平均每个函数调用几个其他函数")
	flag.Int64Var(&cfg.Seed, "seed", 1, "随机种子")
	flag.StringVar(&cfg.ArtifactsPath, "artifacts", "out/build-info", "构建产物目录（相对输出目录）")
	flag.Parse()

	if cfg.NumContracts < 1 || cfg.NumFuncsPerC < 2 || cfg.MaxDepth < 1 || cfg.CallDensity < 0.5 {
		fmt.Fprintln(os.Stderr, "错误: 参数无效")
		os.Exit(2)
	}

	fmt.Printf("正在生成 mock 工作区...\n")
	fmt.Printf("  合约数量: %d\n", cfg.NumContracts)
	fmt.Printf("  每合约函数数: %d\n", cfg.NumFuncsPerC)
	fmt.Printf("  最大深度: %d\n", cfg.MaxDepth)
	fmt.Printf("  调用密度: %.1f\n", cfg.CallDensity)

	g := generate(&cfg, rand.New(rand.NewSource(cfg.Seed)))
	if err := g.WriteSources(cfg.OutputDir); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
	path, err := g.WriteArtifact(filepath.Join(cfg.OutputDir, cfg.ArtifactsPath), "mock.json")
	if err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\n✓ 工作区生成完成: %s\n", cfg.OutputDir)
	fmt.Printf("  构建产物: %s\n", path)
	fmt.Printf("\n下一步:\n")
	fmt.Printf("  cd %s\n", cfg.OutputDir)
	fmt.Printf("  argus index --artifacts %s\n", cfg.ArtifactsPath)
	fmt.Printf("  argus graph src/C00.sol\n")
}

// generate lays out one vendored base, one library and NumContracts
// contracts. Functions are split into depth layers and only call deeper
// layers, so the generated graph is acyclic. Contract i only calls
// contracts with a higher index.
func generate(cfg *Config, rng *rand.Rand) *astfix.Gen {
	g := astfix.New()

	base := g.Unit("lib/common/Ownable.sol")
	ownable := base.Contract("Ownable").Abstract()
	checkOwner := ownable.Func("_checkOwner", "view", "internal")
	onlyOwner := ownable.Modifier("onlyOwner").Calls(checkOwner)

	libUnit := g.Unit("src/libraries/MathLib.sol")
	mathLib := libUnit.Library("MathLib")
	libFuncs := []*astfix.Func{
		mathLib.Func("add", "pure", "internal").Params("uint256", "uint256"),
		mathLib.Func("mul", "pure", "internal").Params("uint256", "uint256"),
		mathLib.Func("clamp", "pure", "internal").Params("uint256"),
	}

	type contract struct {
		entry *astfix.Func
		unit  *astfix.Unit
	}
	contracts := make([]contract, cfg.NumContracts)
	layers := make([][][]*astfix.Func, cfg.NumContracts)

	// Declare everything first; calls to higher-indexed contracts need
	// their functions to exist.
	for i := range contracts {
		u := g.Unit(fmt.Sprintf("src/C%02d.sol", i)).Import(base).Import(libUnit)
		c := u.Contract(fmt.Sprintf("C%02d", i)).Inherits(ownable)
		contracts[i] = contract{unit: u, entry: c.Func("run", "nonpayable", "external").Params("uint256")}

		byDepth := make([][]*astfix.Func, cfg.MaxDepth+1)
		for j := 0; j < cfg.NumFuncsPerC; j++ {
			depth := j % (cfg.MaxDepth + 1)
			var f *astfix.Func
			if depth == 0 {
				f = c.Func(fmt.Sprintf("op%03d", j), "nonpayable", "external").Params("uint256")
				if rng.Intn(3) == 0 {
					f.With(onlyOwner)
				}
			} else {
				f = c.Func(fmt.Sprintf("_step%03d", j), "nonpayable", "internal").Params("uint256")
			}
			byDepth[depth] = append(byDepth[depth], f)
		}
		layers[i] = byDepth
	}

	for i := range contracts {
		byDepth := layers[i]
		for depth, funcs := range byDepth {
			for _, f := range funcs {
				if depth == len(byDepth)-1 {
					f.CallsLibrary(libFuncs[rng.Intn(len(libFuncs))])
					continue
				}
				for _, target := range pickCalls(rng, byDepth, depth, cfg.CallDensity) {
					f.Calls(target)
				}
			}
		}

		entry := contracts[i].entry
		if len(byDepth) > 1 && len(byDepth[1]) > 0 {
			entry.Calls(byDepth[1][rng.Intn(len(byDepth[1]))])
		}
		if next := i + 1 + rng.Intn(3); next < len(contracts) {
			contracts[i].unit.Import(contracts[next].unit)
			entry.CallsExternal(contracts[next].entry)
		}
	}

	fmt.Printf("  ✓ 生成 %d 个源文件\n", len(g.Sources()))
	return g
}

// pickCalls chooses distinct callees from deeper layers, preferring the
// next layer.
func pickCalls(rng *rand.Rand, byDepth [][]*astfix.Func, depth int, density float64) []*astfix.Func {
	numCalls := rng.Intn(int(density*2)) + 1
	if numCalls > int(density*1.5) {
		numCalls = int(density)
	}

	seen := make(map[*astfix.Func]bool)
	var out []*astfix.Func
	for i := 0; i < numCalls; i++ {
		d := depth + 1
		if rng.Float64() >= 0.8 {
			d += rng.Intn(len(byDepth) - depth - 1)
		}
		layer := byDepth[d]
		if len(layer) == 0 {
			continue
		}
		target := layer[rng.Intn(len(layer))]
		if !seen[target] {
			seen[target] = true
			out = append(out, target)
		}
	}
	return out
}
