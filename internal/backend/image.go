package backend

import (
	"github.com/harmonia-ai/muse/pkg/logger"
)

// Per-worker size tables. The width/height pairs and the named-size strings
// are configured independently for each worker; they are worker UI literals,
// not derived from each other.

var crystalSizes = map[Resolution]size{
	Square:   {1024, 1024},
	Wide:     {1344, 768},
	Portrait: {768, 1344},
}

var lumenSizes = map[Resolution]size{
	Square:   {1024, 1024},
	Wide:     {1280, 768},
	Portrait: {768, 1280},
}

var lumenSizeNames = map[Resolution]string{
	Square:   "1024 x 1024",
	Wide:     "1280 x 768",
	Portrait: "768 x 1280",
}

var driftSizes = map[Resolution]size{
	Square:   {768, 768},
	Wide:     {1024, 576},
	Portrait: {576, 1024},
}

var inkwellSizeNames = map[Resolution]string{
	Square:   "Square (1:1)",
	Wide:     "Cinematic (16:9)",
	Portrait: "Tall (9:16)",
}

var inkwellSizes = map[Resolution]size{
	Square:   {832, 832},
	Wide:     {1216, 684},
	Portrait: {684, 1216},
}

var haloSizes = map[Resolution]size{
	Square:   {1024, 1024},
	Wide:     {1152, 896},
	Portrait: {896, 1152},
}

var emberSizes = map[Resolution]size{
	Square:   {512, 512},
	Wide:     {768, 512},
	Portrait: {512, 768},
}

var violetSizeNames = map[Resolution]string{
	Square:   "1:1",
	Wide:     "16:9",
	Portrait: "9:16",
}

var violetSizes = map[Resolution]size{
	Square:   {1024, 1024},
	Wide:     {1344, 768},
	Portrait: {768, 1344},
}

// ImageWorkerEndpoints lists the worker origin per image backend.
// Event-stream workers use an https origin; socket workers a wss URL.
var ImageWorkerEndpoints = map[string]string{
	"crystal":  "https://crystal-xl.workers.harmonia.run",
	"lumen":    "https://lumen-playground.workers.harmonia.run",
	"drift":    "https://drift-diffusion.workers.harmonia.run",
	"inkwell":  "wss://inkwell-anime.workers.harmonia.run/queue/join",
	"halo":     "https://halo-photoreal.workers.harmonia.run",
	"ember":    "wss://ember-pixel.workers.harmonia.run/queue/join",
	"violet":   "https://violet-art.workers.harmonia.run",
}

// NewImageBackends builds the seven image workers against their endpoints.
func NewImageBackends(log *logger.Logger) []Backend {
	stream := func(name string) runner { return NewStreamClient(ImageWorkerEndpoints[name], log) }
	socket := func(name string) runner { return NewSocketClient(ImageWorkerEndpoints[name], log) }

	return []Backend{
		&worker{
			name: "crystal", kind: KindImage, fnIndex: 67, triggerID: 93,
			run: stream("crystal"),
			buildArgs: func(prompt string, digit int, p Params) []any {
				s := crystalSizes[p.Resolution]
				return []any{prompt, "", "", digit, s.Width, s.Height, 7.5, true}
			},
		},
		&worker{
			name: "lumen", kind: KindImage, fnIndex: 21, triggerID: 27,
			run: stream("lumen"),
			buildArgs: func(prompt string, digit int, p Params) []any {
				return []any{prompt, "", lumenSizeNames[p.Resolution], digit, 3}
			},
		},
		&worker{
			name: "drift", kind: KindImage, fnIndex: 3, triggerID: 6,
			run: stream("drift"),
			buildArgs: func(prompt string, digit int, p Params) []any {
				s := driftSizes[p.Resolution]
				return []any{prompt, digit, s.Width, s.Height}
			},
		},
		&worker{
			name: "inkwell", kind: KindImage, fnIndex: 1,
			run: socket("inkwell"),
			buildArgs: func(prompt string, digit int, p Params) []any {
				return []any{prompt, inkwellSizeNames[p.Resolution], digit, 28}
			},
		},
		&worker{
			name: "halo", kind: KindImage, fnIndex: 12, triggerID: 17,
			run: stream("halo"),
			buildArgs: func(prompt string, digit int, p Params) []any {
				s := haloSizes[p.Resolution]
				return []any{prompt, "blurry, deformed", s.Width, s.Height, digit, 5.0}
			},
		},
		&worker{
			name: "ember", kind: KindImage, fnIndex: 2,
			run: socket("ember"),
			buildArgs: func(prompt string, digit int, p Params) []any {
				s := emberSizes[p.Resolution]
				return []any{prompt, s.Width, s.Height, digit}
			},
		},
		&worker{
			name: "violet", kind: KindImage, fnIndex: 5, triggerID: 9,
			run: stream("violet"),
			buildArgs: func(prompt string, digit int, p Params) []any {
				return []any{prompt, violetSizeNames[p.Resolution], digit}
			},
		},
	}
}

// ImageSizes returns the explicit width/height pair a worker uses for a
// resolution name. Exposed for the command surface to echo dimensions.
func ImageSizes(name string, r Resolution) (int, int, bool) {
	var table map[Resolution]size
	switch name {
	case "crystal":
		table = crystalSizes
	case "lumen":
		table = lumenSizes
	case "drift":
		table = driftSizes
	case "inkwell":
		table = inkwellSizes
	case "halo":
		table = haloSizes
	case "ember":
		table = emberSizes
	case "violet":
		table = violetSizes
	default:
		return 0, 0, false
	}
	s, ok := table[r]
	return s.Width, s.Height, ok
}
