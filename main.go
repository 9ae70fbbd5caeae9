package main

import (
	"context"
	"log"
	"os"
	"time"

	"legalchat/internal/api"
	"legalchat/internal/config"
	"legalchat/internal/extract"
	"legalchat/internal/knowledge"
	"legalchat/internal/redis"
	"legalchat/internal/scraper"
	"legalchat/internal/service/assistant"
	"legalchat/internal/service/chat"
	"legalchat/internal/storage"
	"legalchat/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	openai "github.com/sashabaranov/go-openai"
	officelicense "github.com/unidoc/unioffice/common/license"
	pdflicense "github.com/unidoc/unipdf/v3/common/license"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		log.Fatal("OPENAI_API_KEY is required")
	}
	assistantID := os.Getenv("ASSISTANT_ID_CONSTITUCIONAL")
	if assistantID == "" {
		log.Fatal("ASSISTANT_ID_CONSTITUCIONAL is required")
	}
	if key := os.Getenv("UNIDOC_LICENSE_KEY"); key != "" {
		if err := pdflicense.SetMeteredKey(key); err != nil {
			log.Fatalf("set unipdf license: %v", err)
		}
		if err := officelicense.SetMeteredKey(key); err != nil {
			log.Fatalf("set unioffice license: %v", err)
		}
	}

	cfgPath := os.Getenv("LEGALCHAT_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("LEGALCHAT_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Printf("dbType: %s\n", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = redis.NewRedisClient(cfg)
		if err != nil {
			log.Fatalf("create redis client: %v", err)
		}
		defer rdb.Close()
	}

	client := openai.NewClient(apiKey)
	chatService := chat.NewService(db)
	store := knowledge.NewStore(client)

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	store.StartStagingSweeper(sweepCtx, time.Duration(cfg.BasicConfig.StagingSweepIntervalMin)*time.Minute)

	var cache scraper.Cache
	if rdb != nil {
		cache = rdb
	}
	bills, err := scraper.New(cfg.Scraper, cache)
	if err != nil {
		log.Fatalf("init scraper: %v", err)
	}

	pollInterval := time.Duration(cfg.Assistant.PollIntervalMillis) * time.Millisecond
	turnTimeout := time.Duration(cfg.Assistant.TurnTimeoutSeconds) * time.Second
	newRunner := func() worker.TurnRunner {
		s := assistant.NewSession(client, assistantID, pollInterval, turnTimeout)
		s.RegisterTool(scraper.ToolName, bills.RecentProposals)
		return s
	}
	workers := worker.NewManager(chatService, newRunner, cfg.BasicConfig.MaxQueuedTurnsPerSession)

	extractor := extract.New(extract.NewTesseractOCR())
	handlers := api.NewHandler(chatService, workers, store, extractor, bills, cfg.BasicConfig.MaxAttachedFilesPerTurn)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	if err := router.Run(cfg.BasicConfig.ServerAddress); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
