package hashdb

import clog "github.com/sirgallo/logger"

var hLog = clog.NewCustomLog("hashdb")
