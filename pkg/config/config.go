package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	OpenAI struct {
		Endpoint       string  `yaml:"endpoint"`
		APIKey         string  `yaml:"api_key"`
		Model          string  `yaml:"model"`
		EmbeddingModel string  `yaml:"embedding_model"`
		MaxTokens      int     `yaml:"max_tokens"`
		Temperature    float64 `yaml:"temperature"`
	} `yaml:"openai"`

	Vision struct {
		Endpoint string `yaml:"endpoint"`
		APIKey   string `yaml:"api_key"`
	} `yaml:"vision"`

	Database struct {
		URL            string  `yaml:"url"`
		TextVectorDim  int     `yaml:"text_vector_dim"`
		ImageVectorDim int     `yaml:"image_vector_dim"`
		BatchSize      int     `yaml:"batch_size"`
	} `yaml:"database"`

	RAG struct {
		ChunkSize           int     `yaml:"chunk_size"`
		ChunkOverlap        int     `yaml:"chunk_overlap"`
		TopK                int     `yaml:"top_k"`
		SimilarityThreshold float64 `yaml:"similarity_threshold"`
		EmbedRateLimit      float64 `yaml:"embed_rate_limit"` // requests per second
	} `yaml:"rag"`

	Storage struct {
		Bucket   string `yaml:"bucket"`    // GCS bucket; empty means local directory
		LocalDir string `yaml:"local_dir"` // fallback when no bucket is configured
	} `yaml:"storage"`

	Server struct {
		Port           int   `yaml:"port"`
		MaxUploadBytes int64 `yaml:"max_upload_bytes"`
	} `yaml:"server"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/bankrag/config.yaml"),
			"/etc/bankrag/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	mergeWithEnv(&config)
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.OpenAI.Model == "" {
		config.OpenAI.Model = "gpt-4o"
	}
	if config.OpenAI.EmbeddingModel == "" {
		config.OpenAI.EmbeddingModel = "text-embedding-ada-002"
	}
	if config.OpenAI.MaxTokens == 0 {
		config.OpenAI.MaxTokens = 1500
	}
	if config.OpenAI.Temperature == 0 {
		config.OpenAI.Temperature = 0.2
	}

	if config.Database.TextVectorDim == 0 {
		config.Database.TextVectorDim = 1536
	}
	if config.Database.ImageVectorDim == 0 {
		config.Database.ImageVectorDim = 1024
	}
	if config.Database.BatchSize == 0 {
		config.Database.BatchSize = 100
	}

	if config.RAG.ChunkSize == 0 {
		config.RAG.ChunkSize = 512
	}
	if config.RAG.ChunkOverlap == 0 {
		config.RAG.ChunkOverlap = 100
	}
	if config.RAG.TopK == 0 {
		config.RAG.TopK = 5
	}
	if config.RAG.SimilarityThreshold == 0 {
		config.RAG.SimilarityThreshold = 0.7
	}
	if config.RAG.EmbedRateLimit == 0 {
		config.RAG.EmbedRateLimit = 5.0
	}

	if config.Storage.LocalDir == "" {
		config.Storage.LocalDir = "uploads"
	}

	if config.Server.Port == 0 {
		config.Server.Port = 8001
	}
	if config.Server.MaxUploadBytes == 0 {
		config.Server.MaxUploadBytes = 100 << 20 // 100MB
	}
}

func mergeWithEnv(config *Config) {
	if v := os.Getenv("OPENAI_ENDPOINT"); v != "" {
		config.OpenAI.Endpoint = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		config.OpenAI.APIKey = v
	}
	if v := os.Getenv("VISION_ENDPOINT"); v != "" {
		config.Vision.Endpoint = v
	}
	if v := os.Getenv("VISION_API_KEY"); v != "" {
		config.Vision.APIKey = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		config.Database.URL = v
	}
	if v := os.Getenv("STORAGE_BUCKET"); v != "" {
		config.Storage.Bucket = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Server.Port = port
		}
	}
}
