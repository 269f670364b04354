package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/abiosoft/ishell"
	"github.com/caarlos0/env/v6"

	"github.com/leeyeel/auto-ecu-devkit/can"
	"github.com/leeyeel/auto-ecu-devkit/can/flexcan"
	"github.com/leeyeel/auto-ecu-devkit/can/flexsim"
	"github.com/leeyeel/auto-ecu-devkit/gateway"
	"github.com/leeyeel/auto-ecu-devkit/trace"
)

type EnvConfig struct {
	CONFIG string `env:"CANSHELL_CONFIG" envDefault:""`
	TRACE  string `env:"CANSHELL_TRACE" envDefault:"./tmp/canshell.db"`
	LOG    string `env:"CANSHELL_LOG" envDefault:"info"`
	IFACE  string `env:"CANSHELL_IFACE" envDefault:""`
}

var ENV *EnvConfig

func init() {
	ENV = new(EnvConfig)
	env.Parse(ENV)
}

func main() {
	configPath := flag.String("config", ENV.CONFIG, "driver configuration file (yaml)")
	iface := flag.String("iface", ENV.IFACE, "bridge controller 1 to this host CAN interface")
	flag.Parse()

	logger, err := can.NewLogger(ENV.LOG)
	if err != nil {
		panic(err)
	}

	cfg := can.DefaultConfig()
	if *configPath != "" {
		cfg, err = can.Load(*configPath)
		if err != nil {
			panic(fmt.Sprintf("unable to load config: %v", err))
		}
	}

	// One simulated engine per controller.
	engines := make(map[uint32]*flexsim.Engine)
	buses := make(map[uint32]flexcan.Bus)
	for i := range cfg.Controllers {
		e := flexsim.New()
		engines[cfg.Controllers[i].Base] = e
		buses[cfg.Controllers[i].Base] = e
	}

	driver, err := can.NewDriver(cfg, buses, can.WithLogger(logger))
	if err != nil {
		panic(fmt.Sprintf("unable to build driver: %v", err))
	}

	// Wire interrupt lines for the first two controllers.
	isrs := []func(){driver.IsrController0, driver.IsrController1}
	for i := range cfg.Controllers {
		if i < len(isrs) {
			engines[cfg.Controllers[i].Base].SetInterruptLine(isrs[i])
		}
	}

	eng0 := engines[cfg.Controllers[0].Base]
	var bridge *gateway.Bridge
	if *iface != "" && len(cfg.Controllers) > 1 {
		// Controller 1 talks to the host interface.
		sock, err := gateway.NewSocketCAN(*iface, logger)
		if err != nil {
			panic(err)
		}
		defer sock.Close()
		bridge = gateway.NewBridge(engines[cfg.Controllers[1].Base], sock, logger)
		bridge.Start()
		defer bridge.Stop()

		// Controller 0 completes locally.
		eng0.SetOnTransmit(func(ev flexsim.TxEvent) {
			eng0.CompleteTransmit(ev.Mailbox)
		})
	} else if len(cfg.Controllers) > 1 {
		// No host interface: couple the first two engines back to back.
		eng1 := engines[cfg.Controllers[1].Base]
		eng0.SetOnTransmit(func(ev flexsim.TxEvent) {
			eng1.DeliverMatching(ev.IDWord, ev.DLC, ev.Data)
			eng0.CompleteTransmit(ev.Mailbox)
		})
		eng1.SetOnTransmit(func(ev flexsim.TxEvent) {
			eng0.DeliverMatching(ev.IDWord, ev.DLC, ev.Data)
			eng1.CompleteTransmit(ev.Mailbox)
		})
	}

	recorder, err := trace.Open(ENV.TRACE, logger)
	if err != nil {
		panic(fmt.Sprintf("unable to open trace db: %v", err))
	}
	defer recorder.Close()

	shell := ishell.New()
	shell.Println("FlexCAN bench shell")
	shell.ShowPrompt(true)

	// Event callbacks: record and echo.
	driver.RegisterTxConfirmation(func(ctrl, mb uint8) {
		recorder.TxConfirmed(ctrl, mb)
		shell.Println(fmt.Sprintf("tx confirmed: controller %d mailbox %d", ctrl, mb))
	})
	driver.RegisterRxIndication(func(ctrl uint8, f can.Frame) {
		recorder.RxIndicated(ctrl, f)
		shell.Println(fmt.Sprintf("rx: controller %d id %#x [%s] % x", ctrl, f.ID, f.IDType, f.Data[:f.DLC]))
	})
	driver.RegisterBusOffNotification(func(ctrl uint8) {
		recorder.BusOff(ctrl)
		shell.Println(fmt.Sprintf("bus-off: controller %d", ctrl))
	})
	driver.RegisterErrorNotification(func(ctrl uint8, kind can.ErrorKind) {
		recorder.DriverError(ctrl, kind)
		shell.Println(fmt.Sprintf("error: controller %d kind %s", ctrl, kind))
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "init",
		Help: "initialize the driver",
		Func: func(c *ishell.Context) {
			if err := driver.Init(); err != nil {
				c.Err(err)
				return
			}
			for i := range cfg.Controllers {
				id := cfg.Controllers[i].ID
				if err := driver.InitResult(id); err != nil {
					c.Printf("controller %d: %v\n", id, err)
				} else {
					c.Printf("controller %d: ok\n", id)
				}
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "deinit",
		Help: "deinitialize the driver",
		Func: func(c *ishell.Context) {
			driver.DeInit()
			c.Println("driver deinitialized")
		},
	})

	modeCmd := func(name string, mode can.ControllerState) *ishell.Cmd {
		return &ishell.Cmd{
			Name: name,
			Help: name + " <controller>",
			Func: func(c *ishell.Context) {
				ctrl, err := argUint8(c.Args, 0)
				if err != nil {
					c.Err(err)
					return
				}
				if err := driver.SetControllerMode(ctrl, mode); err != nil {
					c.Err(err)
					return
				}
				c.Printf("controller %d: %s\n", ctrl, mode)
			},
		}
	}
	shell.AddCmd(modeCmd("start", can.StateStarted))
	shell.AddCmd(modeCmd("stop", can.StateStopped))
	shell.AddCmd(modeCmd("sleep", can.StateSleep))

	shell.AddCmd(&ishell.Cmd{
		Name: "send",
		Help: "send <hoh> <id> [hexdata]",
		Func: func(c *ishell.Context) {
			hoh, err := argUint8(c.Args, 0)
			if err != nil {
				c.Err(err)
				return
			}
			frame, err := argFrame(c.Args, 1)
			if err != nil {
				c.Err(err)
				return
			}
			if err := driver.Write(hoh, frame); err != nil {
				c.Err(err)
				return
			}
			c.Printf("queued on hoh %d\n", hoh)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "status",
		Help: "show controller states",
		Func: func(c *ishell.Context) {
			for i := range cfg.Controllers {
				id := cfg.Controllers[i].ID
				state, err := driver.GetControllerStatus(id)
				if err != nil {
					c.Err(err)
					continue
				}
				if mask, err := driver.InterruptMask(id); err == nil {
					c.Printf("controller %d: %s (irq mask %#x)\n", id, state, mask)
				} else {
					c.Printf("controller %d: %s\n", id, state)
				}
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "counters",
		Help: "counters <controller>",
		Func: func(c *ishell.Context) {
			ctrl, err := argUint8(c.Args, 0)
			if err != nil {
				c.Err(err)
				return
			}
			counters, err := driver.GetErrorCounters(ctrl)
			if err != nil {
				c.Err(err)
				return
			}
			c.Printf("controller %d: tx=%d rx=%d\n", ctrl, counters.TxErrors, counters.RxErrors)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "inject",
		Help: "inject <controller> <busoff|bit|stuff|crc|ack|form>",
		Func: func(c *ishell.Context) {
			ctrl, err := argUint8(c.Args, 0)
			if err != nil {
				c.Err(err)
				return
			}
			if len(c.Args) < 2 {
				c.Err(fmt.Errorf("missing error kind"))
				return
			}
			bits, err := errorBits(c.Args[1])
			if err != nil {
				c.Err(err)
				return
			}
			eng, ok := engineByID(cfg, engines, ctrl)
			if !ok {
				c.Err(fmt.Errorf("unknown controller %d", ctrl))
				return
			}
			eng.InjectError(bits)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "deliver",
		Help: "deliver <controller> <id> [hexdata] - inject a received frame",
		Func: func(c *ishell.Context) {
			ctrl, err := argUint8(c.Args, 0)
			if err != nil {
				c.Err(err)
				return
			}
			frame, err := argFrame(c.Args, 1)
			if err != nil {
				c.Err(err)
				return
			}
			eng, ok := engineByID(cfg, engines, ctrl)
			if !ok {
				c.Err(fmt.Errorf("unknown controller %d", ctrl))
				return
			}
			idWord := flexcan.EncodeID(frame.IDType == can.Extended, frame.ID)
			if !eng.DeliverMatching(idWord, frame.DLC, frame.Data) {
				c.Println("no mailbox accepted the frame")
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "trace",
		Help: "trace [n] - show recent events",
		Func: func(c *ishell.Context) {
			n := 20
			if len(c.Args) > 0 {
				n, _ = strconv.Atoi(c.Args[0])
			}
			events, err := recorder.Recent(n)
			if err != nil {
				c.Err(err)
				return
			}
			for _, ev := range events {
				switch ev.Kind {
				case trace.KindRx:
					c.Printf("%s  rx   ctrl=%d id=%#x % x\n",
						ev.At.Format("15:04:05.000"), ev.Controller, ev.FrameID, ev.Data)
				case trace.KindTx:
					c.Printf("%s  tx   ctrl=%d mb=%d\n",
						ev.At.Format("15:04:05.000"), ev.Controller, ev.Mailbox)
				default:
					c.Printf("%s  %-4s ctrl=%d %s\n",
						ev.At.Format("15:04:05.000"), ev.Kind, ev.Controller, ev.Detail)
				}
			}
		},
	})

	shell.Start()
}

func argUint8(args []string, i int) (uint8, error) {
	if len(args) <= i {
		return 0, fmt.Errorf("missing argument %d", i+1)
	}
	v, err := strconv.ParseUint(args[i], 0, 8)
	if err != nil {
		return 0, err
	}
	return uint8(v), nil
}

// argFrame parses "<id> [hexdata]" starting at argument i. Identifiers
// above the 11-bit range are sent extended.
func argFrame(args []string, i int) (*can.Frame, error) {
	if len(args) <= i {
		return nil, fmt.Errorf("missing identifier")
	}
	id, err := strconv.ParseUint(args[i], 0, 32)
	if err != nil {
		return nil, err
	}

	frame := &can.Frame{ID: uint32(id)}
	if frame.ID > 0x7FF {
		frame.IDType = can.Extended
	}

	if len(args) > i+1 {
		data, err := hex.DecodeString(strings.TrimPrefix(args[i+1], "0x"))
		if err != nil {
			return nil, err
		}
		if len(data) > 8 {
			return nil, fmt.Errorf("payload exceeds 8 bytes")
		}
		frame.DLC = uint8(len(data))
		copy(frame.Data[:], data)
	}
	return frame, nil
}

func errorBits(kind string) (uint32, error) {
	switch kind {
	case "busoff":
		return flexcan.ESR1BusOffInt, nil
	case "bit":
		return flexcan.ESR1ErrInt | flexcan.ESR1Bit0Err, nil
	case "stuff":
		return flexcan.ESR1ErrInt | flexcan.ESR1StuffErr, nil
	case "crc":
		return flexcan.ESR1ErrInt | flexcan.ESR1CrcErr, nil
	case "ack":
		return flexcan.ESR1ErrInt | flexcan.ESR1AckErr, nil
	case "form":
		return flexcan.ESR1ErrInt | flexcan.ESR1FormErr, nil
	default:
		return 0, fmt.Errorf("unknown error kind %q", kind)
	}
}

func engineByID(cfg *can.Config, engines map[uint32]*flexsim.Engine, id uint8) (*flexsim.Engine, bool) {
	for i := range cfg.Controllers {
		if cfg.Controllers[i].ID == id {
			e, ok := engines[cfg.Controllers[i].Base]
			return e, ok
		}
	}
	return nil, false
}
