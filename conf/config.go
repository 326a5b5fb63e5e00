package conf

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/ini.v1"
)

var ConfigPath string

type CommandLineArgs struct {
	ConfigPath string
}

/**
[nandfs]
data-dir         = /var/lib/xnandfs
disk-file        = nand.img
disk-blocks      = 32
buffer-pool-size = 1024
kv-compression   = snappy
log-error        = logs/error.log
log-infos        = logs/info.log
log-level        = info
*/
type Cfg struct {
	Raw     *ini.File
	DataDir string

	// 设备几何: disk-blocks 个擦除块, 每块128页
	DiskFile   string
	DiskBlocks int

	// 页缓存容量（页数）
	BufferPoolSize int

	// inode记录压缩算法: none | snappy | lz4
	KvCompression string

	LogError string
	LogInfos string
	LogLevel string
}

func NewCfg() *Cfg {
	return &Cfg{
		Raw:            ini.Empty(),
		DataDir:        "",
		DiskFile:       "",
		DiskBlocks:     32,
		BufferPoolSize: 1024,
		KvCompression:  "none",
		LogLevel:       "info",
	}
}

func (cfg *Cfg) Load(args *CommandLineArgs) *Cfg {
	setHomePath(args)
	if args.ConfigPath == "" {
		// 未指定配置文件时使用内存盘默认配置
		return cfg
	}
	iniFile, err := cfg.loadConfiguration(args)
	if err != nil {
		fmt.Println("加载配置文件时有异常", err)
		os.Exit(1)
	}
	cfg.Raw = iniFile
	cfg.parseNandfsCfg(cfg.Raw.Section("nandfs"))
	return cfg
}

func setHomePath(args *CommandLineArgs) {
	if args.ConfigPath != "" {
		ConfigPath = args.ConfigPath
		return
	}
	ConfigPath, _ = filepath.Abs(".")
}

func (cfg *Cfg) loadConfiguration(args *CommandLineArgs) (*ini.File, error) {
	return ini.Load(args.ConfigPath)
}

func (cfg *Cfg) parseNandfsCfg(section *ini.Section) *Cfg {
	cfg.DataDir = section.Key("data-dir").MustString(cfg.DataDir)
	cfg.DiskFile = section.Key("disk-file").MustString(cfg.DiskFile)
	cfg.DiskBlocks = section.Key("disk-blocks").MustInt(cfg.DiskBlocks)
	cfg.BufferPoolSize = section.Key("buffer-pool-size").MustInt(cfg.BufferPoolSize)
	cfg.KvCompression = section.Key("kv-compression").MustString(cfg.KvCompression)
	cfg.LogError = section.Key("log-error").MustString(cfg.LogError)
	cfg.LogInfos = section.Key("log-infos").MustString(cfg.LogInfos)
	cfg.LogLevel = section.Key("log-level").MustString(cfg.LogLevel)

	if cfg.DiskBlocks < 8 {
		fmt.Println("disk-blocks 配置过小, 至少需要8个块", cfg.DiskBlocks)
		os.Exit(1)
	}
	switch cfg.KvCompression {
	case "none", "snappy", "lz4":
	default:
		fmt.Println("kv-compression 配置非法", cfg.KvCompression)
		os.Exit(1)
	}
	return cfg
}
