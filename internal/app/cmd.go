package app

// Command はtwogetherの起動モード。
type Command string

const (
	CommandServe  Command = "serve"  // APIサーバー
	CommandWorker Command = "worker" // 定期修復ワーカー
	// CommandRepair は修復ジョブを1回だけ実行して終了する。
	// ワーカーを常駐させず、cronなど外部のスケジューラーから起動する場合に使う。
	CommandRepair  Command = "repair"
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はdistrolessイメージのHEALTHCHECKから呼ばれる。
	CommandHealthcheck Command = "healthcheck"
)

var commandsByName = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandRepair):      CommandRepair,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
}

// ParseCommand は先頭の引数をサブコマンドとして解釈する。
// 未指定や未知の値はserveとして扱う。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd, ok := commandsByName[args[0]]; ok {
		return cmd
	}
	return CommandServe
}

// RequiresConfig は環境変数からの設定読み込みが必要かどうかを返す。
func (c Command) RequiresConfig() bool {
	return c != CommandHealthcheck
}
