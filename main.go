package main

import (
	"flag"
	"fmt"

	"github.com/zhukovaskychina/xnandfs/conf"
	"github.com/zhukovaskychina/xnandfs/logger"
	"github.com/zhukovaskychina/xnandfs/nandfs"
)

const help = `
******************************************************************************************

 __   ___   _          _   _ ____  _____ ____  
 \ \ / / \ | |   /\   | \ | |  _ \|  ___/ ___| 
  \ V /|  \| |  /  \  |  \| | | | | |_  \___ \ 
   > < | . ' | / /\ \ | . ' | |_| |  _|  ___) |
  / . \| |\  |/ ____ \| |\  |____/|_|   |____/ 
 /_/ \_\_| \_/_/    \_\_| \_|                  

******************************************************************************************
*帮助:
*1. -- help
*2. -- configPath   指定nandfs.ini配置文件
*3. -- initialize   格式化并建立根目录
******************************************************************************************
`

func main() {
	fmt.Println(help)

	var configPath string
	var initialize bool
	flag.StringVar(&configPath, "configPath", "", "配置文件路径")
	flag.BoolVar(&initialize, "initialize", false, "格式化新卷")
	flag.Parse()

	args := &conf.CommandLineArgs{
		ConfigPath: configPath,
	}
	config := conf.NewCfg().Load(args)

	logConfig := logger.LogConfig{
		ErrorLogPath: config.LogError,
		InfoLogPath:  config.LogInfos,
		LogLevel:     config.LogLevel,
	}
	if err := logger.InitLogger(logConfig); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	fs, err := nandfs.NewFileSystem(config)
	if err != nil {
		logger.Fatalf("Failed to assemble filesystem: %v", err)
	}

	if initialize {
		logger.Info("Formatting volume...")
		fs.Format()
	}
	if err := fs.Mount(); err != nil {
		logger.Fatalf("Mount failed: %v", err)
	}
	if initialize {
		root := fs.MakeRoot()
		fs.InodeManager().IPut(root)
		logger.Info("Root directory created")
	}

	logger.Infof("Volume ready: %d main pages, buffer pool hit rate %.2f",
		fs.CoreManager().MainPages(), fs.BufferPool().HitRate())

	if err := fs.Unmount(); err != nil {
		logger.Fatalf("Unmount failed: %v", err)
	}
	logger.Info("Bye")
}
