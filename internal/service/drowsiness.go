package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"wisefido-drowsiness/internal/actuator"
	"wisefido-drowsiness/internal/common/database"
	mqttcommon "wisefido-drowsiness/internal/common/mqtt"
	rediscommon "wisefido-drowsiness/internal/common/redis"
	"wisefido-drowsiness/internal/config"
	"wisefido-drowsiness/internal/consumer"
	"wisefido-drowsiness/internal/extractor"
	"wisefido-drowsiness/internal/models"
	"wisefido-drowsiness/internal/report"
	"wisefido-drowsiness/internal/repository"
	"wisefido-drowsiness/internal/session"
	"wisefido-drowsiness/internal/simulator"
	"wisefido-drowsiness/internal/telemetry"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store 服务使用的持久化存储（会话存储 + 会话结束后回读）
type Store interface {
	session.Store
	GetSession(ctx context.Context, sessionID int64) (*models.Session, error)
	GetDriver(ctx context.Context, driverID int64) (*models.Driver, error)
	ListSessionSamples(ctx context.Context, sessionID int64) ([]models.Sample, error)
}

// DrowsinessService 疲劳驾驶检测服务（整合各层）
type DrowsinessService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *rediscommon.Client
	mqttClient  *mqttcommon.Client
	logger      *zap.Logger
	runID       string

	store      Store
	source     session.SignalSource
	consumer   *consumer.LandmarkConsumer
	dispatcher *actuator.Dispatcher
	operator   *OperatorNotifier
}

// NewDrowsinessService 创建服务：连接数据库、Redis、MQTT 并组装执行器
func NewDrowsinessService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*DrowsinessService, error) {
	runID := uuid.New().String()
	logger = logger.With(zap.String("run_id", runID))

	// 1. 连接数据库
	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}
	if cfg.Database.Migrate {
		if err := database.Migrate(db); err != nil {
			db.Close()
			return nil, err
		}
	}

	s := &DrowsinessService{
		config: cfg,
		db:     db,
		logger: logger,
		runID:  runID,
		store:  repository.NewPostgresStore(db, logger),
	}

	// 2. 连接 Redis（报警事件流、运维通道，不可用时跳过）
	redisClient, err := rediscommon.Connect(ctx, &cfg.Redis)
	if err != nil {
		logger.Warn("Redis unavailable, stream actuators disabled", zap.Error(err))
	} else {
		s.redisClient = redisClient
	}

	// 3. 连接 MQTT（关键点输入或车载报警输出需要时）
	if cfg.Source.Mode == config.SourceMQTT || cfg.Alert.MQTTTopic != "" {
		mqttCfg := cfg.MQTT
		mqttCfg.ClientID = fmt.Sprintf("%s-%s", cfg.MQTT.ClientID, runID[:8])
		mqttClient, err := mqttcommon.NewClient(&mqttCfg, logger)
		if err != nil {
			s.Stop()
			return nil, err
		}
		s.mqttClient = mqttClient
	}

	// 4. 信号源
	if cfg.Source.Mode == config.SourceMQTT {
		ext, err := extractor.NewExtractor(cfg.Drowsiness.ClosedEyeRatio, cfg.Drowsiness.MaxOpenRatio)
		if err != nil {
			s.Stop()
			return nil, err
		}
		s.consumer = consumer.NewLandmarkConsumer(s.mqttClient, cfg.Source.MQTTTopic, cfg.MQTT.QoS, ext, cfg.Source.StaleAfter, logger)
		if err := s.consumer.Start(); err != nil {
			s.Stop()
			return nil, err
		}
		s.source = s.consumer
	} else {
		s.source = simulator.NewGenerator(cfg.Source.Seed, cfg.Drowsiness.SamplingPeriod)
	}

	// 5. 报警执行器
	actuators := []actuator.Actuator{actuator.NewLogActuator(logger)}
	if s.redisClient != nil && cfg.Alert.RedisStream != "" {
		actuators = append(actuators, actuator.NewRedisActuator(s.redisClient, rediscommon.Keyspace(cfg.Redis.KeyPrefix), cfg.Alert.RedisStream, logger))
	}
	if s.mqttClient != nil && cfg.Alert.MQTTTopic != "" {
		actuators = append(actuators, actuator.NewMQTTActuator(s.mqttClient, cfg.Alert.MQTTTopic, cfg.MQTT.QoS))
	}
	if cfg.Alert.WebhookURL != "" {
		actuators = append(actuators, actuator.NewWebhookActuator(cfg.Alert.WebhookURL, cfg.Alert.Timeout, logger))
	}
	fanOut := actuator.NewMultiActuator(actuators...)
	s.dispatcher = actuator.NewDispatcher(fanOut, cfg.Alert.Timeout, logger)
	s.operator = NewOperatorNotifier(s.redisClient, cfg.Alert.OperatorRedisStream, logger)
	s.dispatcher.OnResult(s.operator.AlertDelivery)

	logger.Info("Drowsiness service initialized",
		zap.String("source_mode", cfg.Source.Mode),
		zap.Int("actuators", fanOut.Len()),
		zap.String("database", cfg.Database.GetDSNForLog()),
	)
	return s, nil
}

// RunLive 实时会话：按采样周期采样，直到 SESSION_DURATION 到期或 ctx 取消，然后关闭会话
// ctx 取消后关闭路径只执行一次
func (s *DrowsinessService) RunLive(ctx context.Context) (*models.Session, error) {
	cfg := s.config
	opts := s.sessionOptions()
	manager := session.NewManager(s.store, s.source, s.alertDispatcher(), opts, s.logger)

	driverID, err := s.registerDriver(ctx, manager)
	if err != nil {
		return nil, err
	}
	opened, err := s.open(ctx, manager, driverID, nil)
	if err != nil {
		return nil, err
	}

	runCtx := ctx
	if cfg.Run.SessionDuration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cfg.Run.SessionDuration)
		defer cancel()
	}

	s.logger.Info("Live session sampling started",
		zap.Int64("session_id", opened.SessionID),
		zap.Duration("sampling_period", opts.SamplingPeriod),
		zap.Duration("session_duration", cfg.Run.SessionDuration),
	)
	runErr := manager.Run(runCtx)

	// 关闭使用独立的 ctx，不受中断影响
	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Run.ShutdownTimeout)
	defer cancel()
	annotation := fmt.Sprintf("live session finished: %d samples", manager.Stats().Samples)
	closed, err := manager.Close(closeCtx, annotation)
	if err != nil {
		return nil, fmt.Errorf("failed to close live session: %w", err)
	}

	s.finish(closeCtx, closed)
	return closed, runErr
}

// RunBatch 批量生成一段完整的合成会话并一次写入
func (s *DrowsinessService) RunBatch(ctx context.Context) (*models.Session, error) {
	cfg := s.config
	n := int(cfg.Run.BatchDuration / time.Second)

	opts := s.sessionOptions()
	opts.FlushInterval = 0
	if opts.Buffer.Capacity < n {
		opts.Buffer.Capacity = n
	}
	source := simulator.NewGenerator(cfg.Source.Seed, time.Second)
	// 回放数据不触发报警执行器，报警只体现在采样标志上
	manager := session.NewManager(s.store, source, nil, opts, s.logger)

	driverID, err := s.registerDriver(ctx, manager)
	if err != nil {
		return nil, err
	}
	start := time.Now().Add(-cfg.Run.BatchDuration)
	if _, err := s.open(ctx, manager, driverID, &start); err != nil {
		return nil, err
	}

	for i := 0; i < n; i++ {
		if _, err := manager.Tick(ctx, start.Add(time.Duration(i)*time.Second)); err != nil {
			s.logger.Error("Batch generation stopped", zap.Int("tick", i), zap.Error(err))
			break
		}
	}

	closed, err := manager.Close(context.WithoutCancel(ctx), fmt.Sprintf("simulated session (%ds)", n))
	if err != nil {
		return nil, fmt.Errorf("failed to close batch session: %w", err)
	}

	s.finish(ctx, closed)
	return closed, nil
}

// Stop 停止服务并释放连接
func (s *DrowsinessService) Stop() {
	s.logger.Info("Stopping drowsiness service")

	if s.consumer != nil {
		s.consumer.Stop()
	}
	if s.dispatcher != nil {
		s.dispatcher.Stop()
		delivered, failed := s.dispatcher.Stats()
		s.logger.Info("Alert dispatcher stopped",
			zap.Int("delivered", delivered),
			zap.Int("failed", failed),
		)
		if s.dispatcher.PendingAlertOn() {
			s.logger.Warn("Last alert-on was never delivered to actuators")
		}
	}
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if err := rediscommon.Close(s.redisClient); err != nil {
		s.logger.Error("Failed to close redis", zap.Error(err))
	}
	if s.db != nil {
		if err := database.Close(s.db); err != nil {
			s.logger.Error("Failed to close database", zap.Error(err))
		}
	}
}

func (s *DrowsinessService) sessionOptions() session.Options {
	d := s.config.Drowsiness
	opts := session.Options{
		AlertDuration:  d.AlertDuration,
		FlushInterval:  d.FlushInterval,
		SamplingPeriod: d.SamplingPeriod,
		Buffer: telemetry.BufferOptions{
			Capacity:         d.BufferCapacity,
			Policy:           d.OverflowPolicy,
			FlushTimeout:     d.FlushTimeout,
			FlushAttempts:    d.FlushAttempts,
			RetryWait:        d.FlushRetryWait,
			FailureThreshold: d.FailureAlertThreshold,
		},
	}
	if s.operator != nil {
		opts.OnPersistenceFailure = s.operator.PersistenceFailure
	}
	return opts
}

func (s *DrowsinessService) alertDispatcher() session.AlertDispatcher {
	if s.dispatcher == nil {
		return nil
	}
	return s.dispatcher
}

func (s *DrowsinessService) open(ctx context.Context, manager *session.Manager, driverID int64, startedAt *time.Time) (*models.Session, error) {
	if startedAt != nil {
		return manager.OpenAt(ctx, driverID, *startedAt)
	}
	return manager.Open(ctx, driverID)
}

// registerDriver 使用配置的驾驶员身份，未配置时生成合成身份
func (s *DrowsinessService) registerDriver(ctx context.Context, manager *session.Manager) (int64, error) {
	cfg := s.config
	driver := simulator.RandomDriver(cfg.Source.Seed)
	if cfg.Run.DriverLastName != "" {
		birth, err := cfg.BirthDate()
		if err != nil {
			return 0, err
		}
		driver = models.Driver{LastName: cfg.Run.DriverLastName, BirthDate: birth}
		if cfg.Run.DriverFirstName != "" {
			first := cfg.Run.DriverFirstName
			driver.FirstName = &first
		}
	}
	return manager.RegisterDriver(ctx, driver)
}

// finish 从存储回读会话、驾驶员与采样，输出汇总并导出报表
func (s *DrowsinessService) finish(ctx context.Context, closed *models.Session) {
	stored, err := s.store.GetSession(ctx, closed.SessionID)
	if err != nil {
		s.logger.Warn("Failed to read back session", zap.Int64("session_id", closed.SessionID), zap.Error(err))
		stored = closed
	}
	driver, err := s.store.GetDriver(ctx, stored.DriverID)
	if err != nil {
		s.logger.Warn("Failed to read back driver", zap.Int64("driver_id", stored.DriverID), zap.Error(err))
		driver = nil
	}
	samples, err := s.store.ListSessionSamples(ctx, stored.SessionID)
	if err != nil {
		s.logger.Warn("Failed to read back session samples", zap.Int64("session_id", stored.SessionID), zap.Error(err))
		return
	}

	fields := []zap.Field{
		zap.Int64("session_id", stored.SessionID),
		zap.Int64("driver_id", stored.DriverID),
	}
	if driver != nil {
		fields = append(fields, zap.String("driver", report.DriverName(*driver)))
	}
	summary := report.Summarize(samples)
	s.logger.Info("Session summary", append(fields, summary.Fields()...)...)

	if s.config.Run.ReportDir == "" {
		return
	}
	path, err := report.SaveSessionWorkbook(s.config.Run.ReportDir, *stored, driver, samples)
	if err != nil {
		s.logger.Warn("Failed to export session report", zap.Error(err))
		return
	}
	s.logger.Info("Session report exported", zap.String("path", path))
}
